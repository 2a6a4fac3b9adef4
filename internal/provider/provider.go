package provider

import (
	"context"
	"time"

	"github.com/xaenox/triage-bot/internal/models"
)

// Provider is the uniform contract every AI backend satisfies.
type Provider interface {
	// Generate produces a completion for the new message given prior
	// conversation turns. Failures are mapped onto ErrUnavailable,
	// ErrRateLimited or ErrInvalidResponse.
	Generate(ctx context.Context, history []models.ConversationTurn, message string, opts Options) (*models.AIResponse, error)

	// HealthCheck reports whether the backend is reachable. Never errors.
	HealthCheck(ctx context.Context) bool

	ID() string
	ModelName() string
}

// Options tune a single generation call.
type Options struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// Config holds everything needed to construct one provider instance.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
	defaultTimeout     = 60 * time.Second
)

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return defaultMaxTokens
}

func (o Options) temperature() float32 {
	if o.Temperature > 0 {
		return o.Temperature
	}
	return defaultTemperature
}
