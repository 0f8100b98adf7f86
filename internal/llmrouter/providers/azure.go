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

// AzureConfig configures the Azure OpenAI provider. Azure uses a
// different URL structure and auth than direct OpenAI: the base URL is
// a per-resource endpoint, an API version is a required query
// parameter, and the "model" is actually a deployment name.
type AzureConfig struct {
	// Endpoint is the Azure OpenAI resource endpoint, e.g.
	// https://{resource-name}.openai.azure.com.
	Endpoint string
	APIKey   string
	// APIVersion defaults to 2024-02-15-preview when empty.
	APIVersion string
	// DefaultModel is the deployment name to use when a request
	// doesn't specify one.
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AzureProvider implements llmrouter.Provider against an Azure OpenAI
// Service deployment.
type AzureProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAzureProvider builds an AzureProvider.
func NewAzureProvider(cfg AzureConfig) (*AzureProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("azure: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("azure: API key is required")
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-02-15-preview"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientCfg.APIVersion = apiVersion

	return &AzureProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
	}, nil
}

// Name identifies this provider to the Router.
func (p *AzureProvider) Name() string { return "azure" }

// Generate sends one non-streaming chat completion to the configured
// deployment, retrying transient failures with linear backoff.
func (p *AzureProvider) Generate(ctx context.Context, req llmrouter.GenerateRequest) (*llmrouter.GenerateResponse, error) {
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
			lastErr = errors.New("azure: empty choices in response")
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
	return nil, fmt.Errorf("azure: generate failed after %d attempts: %w", p.maxRetries, lastErr)
}

// GenerateStream opens a streaming chat completion and republishes
// deltas as StreamChunks.
func (p *AzureProvider) GenerateStream(ctx context.Context, req llmrouter.GenerateRequest) (<-chan llmrouter.StreamChunk, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("azure: failed to open stream: %w", err)
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

func (p *AzureProvider) buildRequest(req llmrouter.GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.defaultModel, // the Azure deployment name
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
