package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/agent"
	"github.com/xaenox/triage-bot/internal/api"
	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/conversation"
	"github.com/xaenox/triage-bot/internal/provider"
	"github.com/xaenox/triage-bot/internal/routing"
	"github.com/xaenox/triage-bot/internal/slackbot"
	"github.com/xaenox/triage-bot/internal/templates"
	"github.com/xaenox/triage-bot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	// Initialize conversation storage
	var store conversation.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory conversation store")
		store = conversation.NewMemoryStore(cfg.Conversation.MaxTurns)
	} else {
		logger.Info("Using PostgreSQL conversation store")
		dbConfig := conversation.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = conversation.NewPostgresStore(dbConfig, cfg.Conversation.MaxTurns)
		if err != nil {
			logger.Fatal("Failed to initialize conversation store", zap.Error(err))
		}
	}
	defer store.Close()

	// Register AI providers
	registry := provider.NewRegistry()
	constructors := map[string]provider.Constructor{
		"openai":    func(c provider.Config) (provider.Provider, error) { return provider.NewOpenAI(c) },
		"anthropic": func(c provider.Config) (provider.Provider, error) { return provider.NewAnthropic(c) },
		"gemini":    func(c provider.Config) (provider.Provider, error) { return provider.NewGemini(c) },
		"local":     func(c provider.Config) (provider.Provider, error) { return provider.NewLocal(c) },
	}
	for id, constructor := range constructors {
		if err := registry.Register(id, constructor); err != nil {
			logger.Fatal("Failed to register provider", zap.String("provider", id), zap.Error(err))
		}
	}

	providerCfg, err := cfg.ProviderConfig(cfg.AI.DefaultProvider)
	if err != nil {
		logger.Fatal("Failed to resolve default provider config", zap.Error(err))
	}
	if _, err := registry.SwitchActive(cfg.AI.DefaultProvider, providerCfg); err != nil {
		logger.Fatal("Failed to activate default provider",
			zap.String("provider", cfg.AI.DefaultProvider),
			zap.Error(err))
	}
	logger.Info("Active AI provider",
		zap.String("provider", cfg.AI.DefaultProvider),
		zap.String("model", providerCfg.Model))

	// Routing table and prompt templates
	table := routing.DefaultTable()
	if err := table.Validate(); err != nil {
		logger.Fatal("Invalid routing table", zap.Error(err))
	}
	library := templates.NewLibrary("prompts")

	// Classifier: keyword pass refined by the active provider
	categorizationPrompt, err := library.Load("categorization")
	if err != nil {
		logger.Fatal("Failed to load categorization prompt", zap.Error(err))
	}
	clf := classifier.NewLLMClassifier(registry.Active, categorizationPrompt, logger)

	a := agent.New(registry, store, clf, table, library, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// REST API
	server := api.NewServer(a, cfg.ProviderConfig, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("Starting API server", zap.String("addr", addr))
		if err := server.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
			logger.Error("API server stopped", zap.Error(err))
			stop()
		}
	}()

	// Slack ingress runs only when tokens are configured
	if cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "" {
		b, err := slackbot.New(cfg.Slack.BotToken, cfg.Slack.AppToken, a, cfg.ProviderConfig, cfg.Conversation.MaxThreadDepth, logger)
		if err != nil {
			logger.Fatal("Failed to create Slack bot", zap.Error(err))
		}
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal("Slack bot error", zap.Error(err))
		}
	} else {
		logger.Info("Slack tokens not configured, running API only")
		<-ctx.Done()
	}

	logger.Info("Shutting down")
}
