// Package llmrouter implements the LLM Router: fallback and round-robin
// selection across an ordered list of providers, with per-provider usage
// stats. The Router exposes the same Generate/GenerateStream surface as a
// single Provider, so it is drop-in substitutable — mirroring the
// teacher's FailoverOrchestrator, which implements the same LLMProvider
// interface it wraps.
package llmrouter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/laios/laios/internal/laioserr"
	runtimemetrics "github.com/laios/laios/internal/metrics"
)

// Message is one turn sent to a provider.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest is a provider-agnostic completion request.
type GenerateRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// GenerateResponse is a provider-agnostic completion response.
type GenerateResponse struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// Provider is the interface every LLM backend (Anthropic, OpenAI, Ollama,
// ...) implements.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}

// Strategy selects which provider handles the next request.
type Strategy string

const (
	// StrategyFallback always tries providers in order, advancing to the
	// next only when the current one fails.
	StrategyFallback Strategy = "fallback"

	// StrategyRoundRobin cycles through providers on every call and does
	// not automatically fall back on failure.
	StrategyRoundRobin Strategy = "round_robin"
)

// Stats is the call/error tally for one provider.
type Stats struct {
	Calls  int `json:"calls"`
	Errors int `json:"errors"`
}

// Router selects a Provider per request according to Strategy and tracks
// per-provider usage stats.
type Router struct {
	providers []Provider
	strategy  Strategy
	metrics   *runtimemetrics.Registry

	mu      sync.Mutex
	stats   map[string]*Stats
	rrIndex uint64
}

// Option configures optional Router behavior.
type Option func(*Router)

// WithMetrics records every provider call's latency and outcome into reg.
func WithMetrics(reg *runtimemetrics.Registry) Option {
	return func(r *Router) { r.metrics = reg }
}

// New creates a Router over providers using the given strategy. The
// providers slice order matters for StrategyFallback (first to last) and
// StrategyRoundRobin (cyclic order).
func New(providers []Provider, strategy Strategy, opts ...Option) *Router {
	stats := make(map[string]*Stats, len(providers))
	for _, p := range providers {
		stats[p.Name()] = &Stats{}
	}
	r := &Router{providers: providers, strategy: strategy, stats: stats}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name identifies the router itself as a provider (so it composes).
func (r *Router) Name() string { return "router:" + string(r.strategy) }

// Generate routes a completion request per the configured strategy.
func (r *Router) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	switch r.strategy {
	case StrategyRoundRobin:
		return r.generateRoundRobin(ctx, req)
	default:
		return r.generateFallback(ctx, req)
	}
}

// GenerateStream routes a streaming completion request per the configured strategy.
func (r *Router) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	switch r.strategy {
	case StrategyRoundRobin:
		p := r.nextRoundRobin()
		start := time.Now()
		ch, err := p.GenerateStream(ctx, req)
		r.record(p.Name(), err, time.Since(start))
		return ch, err
	default:
		var lastErr error
		for _, p := range r.providers {
			start := time.Now()
			ch, err := p.GenerateStream(ctx, req)
			r.record(p.Name(), err, time.Since(start))
			if err == nil {
				return ch, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no providers configured", laioserr.ErrProvider)
		}
		return nil, lastErr
	}
}

// generateFallback always tries providers[0] first, advancing only on failure.
func (r *Router) generateFallback(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", laioserr.ErrProvider)
	}

	var lastErr error
	for _, p := range r.providers {
		start := time.Now()
		resp, err := p.Generate(ctx, req)
		r.record(p.Name(), err, time.Since(start))
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// generateRoundRobin advances the shared counter and calls exactly one
// provider; failures do not automatically fall back.
func (r *Router) generateRoundRobin(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", laioserr.ErrProvider)
	}
	p := r.nextRoundRobin()
	start := time.Now()
	resp, err := p.Generate(ctx, req)
	r.record(p.Name(), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Router) nextRoundRobin() Provider {
	r.mu.Lock()
	idx := r.rrIndex % uint64(len(r.providers))
	r.rrIndex++
	r.mu.Unlock()
	return r.providers[idx]
}

func (r *Router) record(name string, err error, elapsed time.Duration) {
	r.mu.Lock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stats{}
		r.stats[name] = s
	}
	s.Calls++
	if err != nil {
		s.Errors++
	}
	r.mu.Unlock()

	if r.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.LLMRequestDuration.WithLabelValues(name, status).Observe(elapsed.Seconds())
	r.metrics.LLMRequestCounter.WithLabelValues(name, status).Inc()
}

// GetUsageStats returns a snapshot of per-provider call/error counts.
func (r *Router) GetUsageStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}
