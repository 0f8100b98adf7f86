package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/laios/laios/internal/llmrouter"
)

// CopilotProxyConfig configures the Copilot Proxy provider. Copilot
// Proxy is a local OpenAI-compatible endpoint that exposes GitHub
// Copilot's underlying models without a direct API key.
type CopilotProxyConfig struct {
	// BaseURL defaults to http://localhost:3000/v1 when empty.
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// CopilotProxyProvider implements llmrouter.Provider against a local
// Copilot Proxy instance.
type CopilotProxyProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewCopilotProxyProvider builds a CopilotProxyProvider.
func NewCopilotProxyProvider(cfg CopilotProxyConfig) (*CopilotProxyProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:3000/v1"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	// The proxy doesn't require a key; go-openai still wants a non-empty
	// token to build a client.
	clientCfg := openai.DefaultConfig("n/a")
	clientCfg.BaseURL = baseURL

	return &CopilotProxyProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

// Name identifies this provider to the Router.
func (p *CopilotProxyProvider) Name() string { return "copilot-proxy" }

// Generate sends one non-streaming chat completion to the proxy,
// retrying transient failures with linear backoff.
func (p *CopilotProxyProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
	chatReq := p.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("copilot-proxy: empty choices in response")
			continue
		}

		choice := resp.Choices[0]
		return &llmrouter.GenerateResponse{
			Content:      choice.Message.Content,
			Model:        resp.Model,
			FinishReason: string(choice.FinishReason),
			Usage: llmrouter.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	}
	return nil, fmt.Errorf("copilot-proxy: generate failed after %d attempts: %w", p.maxRetries, lastErr)
}

// GenerateStream opens a streaming chat completion and republishes
// deltas as StreamChunks.
func (p *CopilotProxyProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("copilot-proxy: failed to open stream: %w", err)
	}

	out := make(chan llmrouter.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- llmrouter.StreamChunk{Done: true}
				return
			}
			if err != nil {
				out <- llmrouter.StreamChunk{Err: err, Done: true}
				return
			}
			if len(resp.Choices) > 0 {
				delta := resp.Choices[0].Delta.Content
				if delta != "" {
					out <- llmrouter.StreamChunk{Text: delta}
				}
			}
		}
	}()
	return out, nil
}

func (p *CopilotProxyProvider) buildRequest(req llmrouter.GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.defaultModel,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Stop) > 0 {
		chatReq.Stop = req.Stop
	}
	return chatReq
}
