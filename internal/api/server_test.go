package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/agent"
	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/conversation"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
	"github.com/xaenox/triage-bot/internal/routing"
	"github.com/xaenox/triage-bot/internal/templates"
)

type stubProvider struct {
	id  string
	err error
}

func (s *stubProvider) Generate(_ context.Context, _ []models.ConversationTurn, message string, _ provider.Options) (*models.AIResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.AIResponse{
		Content:  "reply to " + message,
		Provider: s.id,
		Model:    "stub-model",
		Latency:  time.Millisecond,
	}, nil
}

func (s *stubProvider) HealthCheck(context.Context) bool { return true }
func (s *stubProvider) ID() string                       { return s.id }
func (s *stubProvider) ModelName() string                { return "stub-model" }

func newTestServer(t *testing.T) (*Server, *conversation.MemoryStore) {
	t.Helper()

	registry := provider.NewRegistry()
	for _, id := range []string{"stub", "other"} {
		id := id
		require.NoError(t, registry.Register(id, func(provider.Config) (provider.Provider, error) {
			return &stubProvider{id: id}, nil
		}))
	}
	_, err := registry.SwitchActive("stub", provider.Config{Model: "stub-model"})
	require.NoError(t, err)

	store := conversation.NewMemoryStore(10)
	table := routing.DefaultTable()
	require.NoError(t, table.Validate())

	a := agent.New(registry, store, classifier.NewKeywordClassifier(), table, templates.NewLibrary(""), zap.NewNop())

	resolve := func(id string) (provider.Config, error) {
		switch id {
		case "stub", "other":
			return provider.Config{Model: "stub-model"}, nil
		default:
			return provider.Config{}, fmt.Errorf("no configuration for provider %q", id)
		}
	}

	return NewServer(a, resolve, zap.NewNop()), store
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRootEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Support Triage Bot API")
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "stub", resp["provider"])
	assert.Equal(t, "stub-model", resp["model"])
}

func TestChatEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{
		"message": "API returning 500 errors on checkout",
		"user_id": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "technical_issue", resp.Category)
	assert.Equal(t, "stub", resp.Provider)
	assert.Contains(t, resp.Response, "reply to")

	history, err := store.History(context.Background(), "user:alice")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatMissingFields(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownProvider(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{
		"message":  "hello",
		"user_id":  "alice",
		"provider": "nonexistent",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AvailableProviders []string `json:"available_providers"`
		CurrentProvider    string   `json:"current_provider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"stub", "other"}, resp.AvailableProviders)
	assert.Equal(t, "stub", resp.CurrentProvider)
}

func TestSwitchProvider(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/models/switch/other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "switched to other")

	rec = doJSON(t, s, http.MethodGet, "/models", nil)
	assert.Contains(t, rec.Body.String(), `"current_provider":"other"`)
}

func TestSwitchUnknownProvider(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/models/switch/nonexistent", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "available")
}

func TestClearConversation(t *testing.T) {
	s, store := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/chat", map[string]any{
		"message": "what is the refund policy",
		"user_id": "carol",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/conversations/carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	history, err := store.History(context.Background(), "user:carol")
	require.NoError(t, err)
	assert.Empty(t, history)
}
