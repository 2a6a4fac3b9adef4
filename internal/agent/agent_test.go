package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/conversation"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
	"github.com/xaenox/triage-bot/internal/routing"
	"github.com/xaenox/triage-bot/internal/templates"
)

type step struct {
	content string
	err     error
}

// scriptedProvider replays a fixed sequence of outcomes and repeats the
// last one once the script runs out.
type scriptedProvider struct {
	mu    sync.Mutex
	id    string
	steps []step
	calls int

	gate        chan struct{} // when set, Generate blocks until closed
	inflight    int32
	maxInflight int32
}

func (s *scriptedProvider) Generate(ctx context.Context, _ []models.ConversationTurn, message string, _ provider.Options) (*models.AIResponse, error) {
	cur := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		max := atomic.LoadInt32(&s.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxInflight, max, cur) {
			break
		}
	}

	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	st := s.steps[idx]
	s.calls++
	s.mu.Unlock()

	if st.err != nil {
		return nil, st.err
	}
	return &models.AIResponse{
		Content:  st.content + " [" + message + "]",
		Provider: s.id,
		Model:    "test-model",
		Latency:  time.Millisecond,
	}, nil
}

func (s *scriptedProvider) HealthCheck(context.Context) bool { return true }
func (s *scriptedProvider) ID() string                       { return s.id }
func (s *scriptedProvider) ModelName() string                { return "test-model" }

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestAgent(t *testing.T, p *scriptedProvider) (*Agent, *conversation.MemoryStore) {
	t.Helper()

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(p.id, func(provider.Config) (provider.Provider, error) {
		return p, nil
	}))
	_, err := registry.SwitchActive(p.id, provider.Config{
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	store := conversation.NewMemoryStore(10)
	table := routing.DefaultTable()
	require.NoError(t, table.Validate())

	a := New(registry, store, classifier.NewKeywordClassifier(), table, templates.NewLibrary(""), zap.NewNop())
	return a, store
}

func message(author, text string) models.Message {
	return models.Message{
		ID:        "m-1",
		Author:    author,
		Text:      text,
		Channel:   "C123",
		Timestamp: time.Now(),
	}
}

func TestProcessTechnicalIssueEndToEnd(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "triage analysis"}}}
	a, store := newTestAgent(t, p)

	res, err := a.Process(context.Background(), Request{Message: message("alice", "API returning 500 errors on checkout")})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryTechnicalIssue, res.Category)
	assert.Equal(t, "software_engineer_triage", res.Rule.Template)
	assert.Equal(t, "ops-debugging", res.Rule.EscalationTeam)
	assert.Contains(t, res.Response.Content, "triage analysis")

	history, err := store.History(context.Background(), "user:alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
}

func TestProcessFYINoEscalation(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "noted"}}}
	a, _ := newTestAgent(t, p)

	res, err := a.Process(context.Background(), Request{Message: message("bob", "FYI — deployed hotfix to staging, ticket PROJ-88")})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryFYI, res.Category)
	assert.Empty(t, res.Rule.EscalationTeam)
}

func TestProcessFeatureEnablementWithThreadContext(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "coordinating enablement"}}}
	a, _ := newTestAgent(t, p)

	thread := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "Acme Corp upgraded their plan and wants us to enable the SSO feature", Timestamp: time.Now()},
	}
	msg := message("carol", "Enable SSO for Acme Corp")
	msg.ThreadID = "1717171717.000100"

	res, err := a.Process(context.Background(), Request{Message: msg, ThreadContext: thread})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryFeatureEnablement, res.Category)
	assert.Equal(t, "df-product", res.Rule.EscalationTeam)
}

func TestProcessUnclassifiableStillGenerates(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "clarifying question"}}}
	a, store := newTestAgent(t, p)

	res, err := a.Process(context.Background(), Request{Message: message("dave", "zzz qqq")})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryUnknown, res.Category)
	assert.Equal(t, "general_support", res.Rule.Template)

	history, err := store.History(context.Background(), "user:dave")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	// Times out twice, succeeds on the third attempt. The exchange must be
	// recorded exactly once.
	p := &scriptedProvider{id: "stub", steps: []step{
		{err: provider.ErrUnavailable},
		{err: provider.ErrUnavailable},
		{content: "third time lucky"},
	}}
	a, store := newTestAgent(t, p)

	res, err := a.Process(context.Background(), Request{Message: message("erin", "the build is broken")})
	require.NoError(t, err)

	assert.Equal(t, 3, p.callCount())
	assert.Contains(t, res.Response.Content, "third time lucky")

	history, err := store.History(context.Background(), "user:erin")
	require.NoError(t, err)
	assert.Len(t, history, 2, "response appended exactly once")
}

func TestProcessFailureLeavesHistoryUntouched(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{err: provider.ErrUnavailable}}}
	a, store := newTestAgent(t, p)

	ctx := context.Background()
	seed := models.ConversationTurn{Role: models.RoleUser, Content: "earlier message", Timestamp: time.Now()}
	require.NoError(t, store.Append(ctx, "user:frank", seed))
	before, err := store.History(ctx, "user:frank")
	require.NoError(t, err)

	_, err = a.Process(ctx, Request{Message: message("frank", "everything is broken")})
	require.ErrorIs(t, err, ErrDegraded)

	after, err := store.History(ctx, "user:frank")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed orchestration must not mutate history")
}

func TestProcessInvalidResponseNotRetried(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{err: provider.ErrInvalidResponse}}}
	a, store := newTestAgent(t, p)

	_, err := a.Process(context.Background(), Request{Message: message("gina", "the login page crashes")})
	require.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, 1, p.callCount(), "invalid responses are not retried")

	history, err := store.History(context.Background(), "user:gina")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessRateLimitedRetries(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{
		{err: &provider.RateLimitError{RetryAfter: 10 * time.Millisecond}},
		{content: "after the limit"},
	}}
	a, _ := newTestAgent(t, p)

	res, err := a.Process(context.Background(), Request{Message: message("hana", "deploy fails with a timeout")})
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
	assert.Contains(t, res.Response.Content, "after the limit")
}

func TestSameKeySerialized(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "ok"}}}
	a, _ := newTestAgent(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Process(context.Background(), Request{Message: message("ivan", "the service crashed again")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.maxInflight), "one key never generates concurrently")
}

func TestSwitchProviderMidFlight(t *testing.T) {
	slow := &scriptedProvider{id: "slow", steps: []step{{content: "from slow"}}, gate: make(chan struct{})}

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register("slow", func(provider.Config) (provider.Provider, error) { return slow, nil }))
	require.NoError(t, registry.Register("fast", func(provider.Config) (provider.Provider, error) {
		return &scriptedProvider{id: "fast", steps: []step{{content: "from fast"}}}, nil
	}))
	_, err := registry.SwitchActive("slow", provider.Config{Timeout: 2 * time.Second, MaxRetries: 1})
	require.NoError(t, err)

	store := conversation.NewMemoryStore(10)
	a := New(registry, store, classifier.NewKeywordClassifier(), routing.DefaultTable(), templates.NewLibrary(""), zap.NewNop())

	results := make(chan *Result, 1)
	go func() {
		res, err := a.Process(context.Background(), Request{Message: message("judy", "API errors everywhere")})
		assert.NoError(t, err)
		results <- res
	}()

	// Wait for the slow provider call to be in flight, then switch.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&slow.inflight) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, a.SwitchProvider("fast", provider.Config{Timeout: time.Second}))
	close(slow.gate)

	res := <-results
	assert.Equal(t, "slow", res.Response.Provider, "dispatched orchestration completes on the captured provider")
}

func TestCancelledOrchestrationDiscardsResponse(t *testing.T) {
	p := &scriptedProvider{id: "stub", steps: []step{{content: "late answer"}}, gate: make(chan struct{})}
	a, store := newTestAgent(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := a.Process(ctx, Request{Message: message("kate", "the worker pool deadlocks")})
		errs <- err
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&p.inflight) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	// Let the worker drain the response, then confirm it was discarded.
	close(p.gate)
	time.Sleep(50 * time.Millisecond)

	history, err := store.History(context.Background(), "user:kate")
	require.NoError(t, err)
	assert.Empty(t, history, "drained response is discarded without appending")
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "user:alice", ConversationKey(models.Message{Author: "alice"}))
	assert.Equal(t, "thread:C1:123.456", ConversationKey(models.Message{Author: "alice", Channel: "C1", ThreadID: "123.456"}))
}
