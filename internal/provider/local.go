package provider

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Local serves completions from an OpenAI-compatible local endpoint
// (Ollama, llama.cpp server, vLLM). Same wire protocol, no real API key.
type Local struct {
	*OpenAI
}

func NewLocal(cfg Config) (*Local, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: local endpoint is required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: local model is required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		// go-openai refuses an empty key even though local servers ignore it
		cfg.APIKey = "local"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.Endpoint

	return &Local{OpenAI: &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		id:     "local",
	}}, nil
}
