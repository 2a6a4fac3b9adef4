package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/agent"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
)

// ProviderConfigResolver maps a provider id to its configuration for the
// switch endpoint.
type ProviderConfigResolver func(id string) (provider.Config, error)

// Server exposes the agent's operations over REST.
type Server struct {
	agent   *agent.Agent
	resolve ProviderConfigResolver
	logger  *zap.Logger
	engine  *gin.Engine
}

type chatRequest struct {
	Message     string  `json:"message" binding:"required"`
	UserID      string  `json:"user_id" binding:"required"`
	Provider    string  `json:"provider"`
	Context     string  `json:"context"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatResponse struct {
	Response  string             `json:"response"`
	Category  string             `json:"category"`
	Provider  string             `json:"provider"`
	Model     string             `json:"model"`
	LatencyMS int64              `json:"latency_ms"`
	Usage     *models.TokenUsage `json:"usage,omitempty"`
}

func NewServer(a *agent.Agent, resolve ProviderConfigResolver, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		agent:   a,
		resolve: resolve,
		logger:  logger,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/", s.root)
	s.engine.GET("/health", s.health)
	s.engine.POST("/chat", s.chat)
	s.engine.GET("/models", s.listModels)
	s.engine.POST("/models/switch/:provider", s.switchProvider)
	s.engine.DELETE("/conversations/:user_id", s.clearConversation)
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Support Triage Bot API",
		"version": "1.0.0",
	})
}

func (s *Server) health(c *gin.Context) {
	healthy, providerID, model := s.agent.HealthCheck(c.Request.Context())
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"provider": providerID,
		"model":    model,
	})
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if req.Provider != "" {
		current, _ := s.agent.ActiveModelInfo()
		if req.Provider != current {
			cfg, err := s.resolve(req.Provider)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
				return
			}
			if err := s.agent.SwitchProvider(req.Provider, cfg); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
				return
			}
		}
	}

	res, err := s.agent.Process(c.Request.Context(), agent.Request{
		Message: models.Message{
			ID:        uuid.New().String(),
			Author:    req.UserID,
			Text:      req.Message,
			Channel:   "api",
			Timestamp: time.Now(),
		},
		Context: req.Context,
		Options: provider.Options{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		s.logger.Error("Chat request failed", zap.Error(err))
		if errors.Is(err, agent.ErrDegraded) {
			c.JSON(http.StatusBadGateway, gin.H{"detail": agent.ErrDegraded.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Response:  res.Response.Content,
		Category:  string(res.Category),
		Provider:  res.Response.Provider,
		Model:     res.Response.Model,
		LatencyMS: res.Response.Latency.Milliseconds(),
		Usage:     res.Response.Usage,
	})
}

func (s *Server) listModels(c *gin.Context) {
	providerID, model := s.agent.ActiveModelInfo()
	c.JSON(http.StatusOK, gin.H{
		"available_providers": s.agent.Providers(),
		"current_provider":    providerID,
		"current_model":       model,
	})
}

func (s *Server) switchProvider(c *gin.Context) {
	id := c.Param("provider")

	cfg, err := s.resolve(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": fmt.Sprintf("unknown provider: %s, available: %v", id, s.agent.Providers()),
		})
		return
	}

	if err := s.agent.SwitchProvider(id, cfg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, provider.ErrUnknownProvider) || errors.Is(err, provider.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"detail": err.Error()})
		return
	}

	providerID, model := s.agent.ActiveModelInfo()
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("switched to %s", id),
		"provider": providerID,
		"model":    model,
	})
}

func (s *Server) clearConversation(c *gin.Context) {
	userID := c.Param("user_id")
	key := agent.ConversationKey(models.Message{Author: userID})

	if err := s.agent.ClearConversation(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("conversation history cleared for user %s", userID),
	})
}
