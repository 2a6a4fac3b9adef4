package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xaenox/triage-bot/internal/models"
)

// OpenAI talks to the OpenAI chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
	id     string
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: openai model is required", ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		id:     "openai",
	}, nil
}

func (p *OpenAI) Generate(ctx context.Context, history []models.ConversationTurn, message string, opts Options) (*models.AIResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   opts.maxTokens(),
		Temperature: opts.temperature(),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	return &models.AIResponse{
		Content:  content,
		Provider: p.ID(),
		Model:    resp.Model,
		Latency:  time.Since(start),
		Usage: &models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAI) HealthCheck(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAI) ID() string        { return p.id }
func (p *OpenAI) ModelName() string { return p.model }

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if mapped := classifyHTTPStatus(apiErr.HTTPStatusCode, err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("openai: %w", err)
	}
	if mapped := classifyTransportError(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
