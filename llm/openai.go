package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/flowmesh/orchestrator/errors"
)

// OpenAIProvider implements the Provider interface for OpenAI
type OpenAIProvider struct {
	client *openai.Client
	name   string
}

// NewOpenAI creates a new OpenAI provider
func NewOpenAI(apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		name:   "openai",
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// GenerateCompletion generates a text completion using OpenAI
func (p *OpenAIProvider) GenerateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	// Build messages
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	// Use chat completion API (recommended for GPT-3.5+ models)
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, errors.NewModelAPIError("openai", req.Model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.NewModelAPIError("openai", req.Model, fmt.Errorf("no completion choices returned"))
	}

	return &CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
	}, nil
}

// GenerateChat generates a chat response using OpenAI
func (p *OpenAIProvider) GenerateChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	// Convert messages
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, errors.NewModelAPIError("openai", req.Model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.NewModelAPIError("openai", req.Model, fmt.Errorf("no chat choices returned"))
	}

	return &ChatResponse{
		Message: Message{
			Role:    resp.Choices[0].Message.Role,
			Content: resp.Choices[0].Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
	}, nil
}
