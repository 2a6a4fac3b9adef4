package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/xaenox/triage-bot/internal/models"
)

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: anthropic model is required", ErrInvalidConfig)
	}

	var clientOpts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.Endpoint))
	}

	return &Anthropic{
		client: anthropic.NewClient(cfg.APIKey, clientOpts...),
		model:  cfg.Model,
	}, nil
}

func (p *Anthropic) Generate(ctx context.Context, history []models.ConversationTurn, message string, opts Options) (*models.AIResponse, error) {
	// Anthropic takes the system prompt as a dedicated field, not a turn.
	system := opts.SystemPrompt
	messages := make([]anthropic.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantTextMessage(turn.Content))
		case models.RoleSystem:
			if system == "" {
				system = turn.Content
			}
		default:
			messages = append(messages, anthropic.NewUserTextMessage(turn.Content))
		}
	}
	messages = append(messages, anthropic.NewUserTextMessage(message))

	temperature := opts.temperature()
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		Messages:    messages,
		MaxTokens:   opts.maxTokens(),
		Temperature: &temperature,
	}
	if system != "" {
		req.System = system
	}

	start := time.Now()
	resp, err := p.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: no content blocks returned", ErrInvalidResponse)
	}
	content := strings.TrimSpace(resp.Content[0].GetText())
	if content == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	return &models.AIResponse{
		Content:  content,
		Provider: p.ID(),
		Model:    string(resp.Model),
		Latency:  time.Since(start),
		Usage: &models.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *Anthropic) HealthCheck(ctx context.Context) bool {
	_, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage("ping")},
		MaxTokens: 1,
	})
	return err == nil
}

func (p *Anthropic) ID() string        { return "anthropic" }
func (p *Anthropic) ModelName() string { return p.model }

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimitErr():
			return fmt.Errorf("%w: %v", &RateLimitError{}, err)
		case apiErr.IsOverloadedErr(), apiErr.IsApiErr():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("anthropic: %w", err)
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		if mapped := classifyHTTPStatus(reqErr.StatusCode, err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("anthropic: %w", err)
	}
	if mapped := classifyTransportError(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
