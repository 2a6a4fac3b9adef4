package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/xaenox/triage-bot/internal/models"
)

// Gemini talks to the Google Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: gemini model is required", ErrInvalidConfig)
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Gemini{
		client: client,
		model:  cfg.Model,
	}, nil
}

func (p *Gemini) Generate(ctx context.Context, history []models.ConversationTurn, message string, opts Options) (*models.AIResponse, error) {
	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(opts.temperature())
	model.SetMaxOutputTokens(int32(opts.maxTokens()))
	if opts.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.SystemPrompt)},
		}
	}

	chat := model.StartChat()
	for _, turn := range history {
		role := "user"
		if turn.Role == models.RoleAssistant {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}

	start := time.Now()
	resp, err := chat.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	content := geminiText(resp)
	if content == "" {
		return nil, fmt.Errorf("%w: no text candidates returned", ErrInvalidResponse)
	}

	out := &models.AIResponse{
		Content:  content,
		Provider: p.ID(),
		Model:    p.model,
		Latency:  time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.Usage = &models.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *Gemini) HealthCheck(ctx context.Context) bool {
	_, err := p.client.GenerativeModel(p.model).CountTokens(ctx, genai.Text("ping"))
	return err == nil
}

func (p *Gemini) ID() string        { return "gemini" }
func (p *Gemini) ModelName() string { return p.model }

func (p *Gemini) Close() error { return p.client.Close() }

func geminiText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if mapped := classifyHTTPStatus(apiErr.Code, err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("gemini: %w", err)
	}
	if mapped := classifyTransportError(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
