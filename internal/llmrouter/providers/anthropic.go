// Package providers contains llmrouter.Provider implementations for
// concrete LLM backends: Anthropic (official SDK); OpenAI, Azure OpenAI,
// Copilot Proxy and OpenRouter (via github.com/sashabaranov/go-openai);
// and Ollama (hand-rolled HTTP client, since Ollama ships no official Go
// SDK for its chat API).
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/laios/laios/internal/llmrouter"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements llmrouter.Provider against the Anthropic
// Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider builds an AnthropicProvider, applying the same
// defaults (model, token cap, retry policy) regardless of what the caller
// leaves zero-valued.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		maxTokens:    maxTokens,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

// Name identifies this provider to the Router.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate sends one non-streaming completion request, retrying transient
// failures with linear backoff.
func (p *AnthropicProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	params := p.buildParams(req)

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			lastErr = err
			continue
		}

		var text string
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}

		return &llmrouter.GenerateResponse{
			Content:      text,
			Model:        string(msg.Model),
			FinishReason: string(msg.StopReason),
			Usage: llmrouter.Usage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
				TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			},
		}, nil
	}
	return nil, fmt.Errorf("anthropic: generate failed after %d attempts: %w", p.maxRetries, lastErr)
}

// GenerateStream opens an Anthropic streaming request and republishes its
// SSE events as StreamChunks.
func (p *AnthropicProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan llmrouter.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta.Delta.Text != "" {
					out <- llmrouter.StreamChunk{Text: delta.Delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llmrouter.StreamChunk{Err: err, Done: true}
			return
		}
		out <- llmrouter.StreamChunk{Done: true}
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req llmrouter.GenerateRequest) anthropic.MessageNewParams {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: int64(maxTokens),
		Messages:  p.convertMessages(req.Messages),
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

// convertMessages maps provider-agnostic messages onto Anthropic's
// MessageParam shape. Messages with the "system" role are skipped and
// buildParams does not set params.System, so their content is not sent.
// Every remaining message becomes either a user or assistant turn, since
// Anthropic has no third role.
func (p *AnthropicProvider) convertMessages(messages []llmrouter.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}
