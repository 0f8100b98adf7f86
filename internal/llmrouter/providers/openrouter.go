package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/laios/laios/internal/llmrouter"
)

// OpenRouterConfig configures the OpenRouter provider. OpenRouter
// speaks an OpenAI-compatible API in front of many providers; model IDs
// use a "provider/model-name" format, e.g. "anthropic/claude-3-opus".
type OpenRouterConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenRouterProvider implements llmrouter.Provider against OpenRouter.
type OpenRouterProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenRouterProvider builds an OpenRouterProvider.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}

	model := cfg.DefaultModel
	if model == "" {
		model = "openai/gpt-4o"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = "https://openrouter.ai/api/v1"

	return &OpenRouterProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

// Name identifies this provider to the Router.
func (p *OpenRouterProvider) Name() string { return "openrouter" }

// Generate sends one non-streaming chat completion, retrying transient
// failures with linear backoff.
func (p *OpenRouterProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
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
			lastErr = errors.New("openrouter: empty choices in response")
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
	return nil, fmt.Errorf("openrouter: generate failed after %d attempts: %w", p.maxRetries, lastErr)
}

// GenerateStream opens a streaming chat completion and republishes
// deltas as StreamChunks.
func (p *OpenRouterProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: failed to open stream: %w", err)
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

func (p *OpenRouterProvider) buildRequest(req llmrouter.GenerateRequest) openai.ChatCompletionRequest {
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
