package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/conversation"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/provider"
	"github.com/xaenox/triage-bot/internal/routing"
	"github.com/xaenox/triage-bot/internal/templates"
)

// ErrDegraded is returned when generation failed after exhausting retries.
// Conversation history is left untouched in that case.
var ErrDegraded = errors.New("the assistant is temporarily unavailable, please try again shortly")

// State names the orchestration phases a message moves through.
type State string

const (
	StateReceived   State = "received"
	StateClassified State = "classified"
	StateRouted     State = "routed"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Request is one inbound message plus everything the orchestrator may use
// to answer it: thread context from the channel and any pre-fetched
// external context summary.
type Request struct {
	Message       models.Message
	ThreadContext []models.ConversationTurn
	Context       string
	Options       provider.Options
}

// Result is a completed orchestration.
type Result struct {
	Response *models.AIResponse
	Category models.Category
	Rule     routing.Rule
}

// Agent orchestrates classify → route → generate → record for each
// inbound message, serializing work per conversation key.
type Agent struct {
	registry   *provider.Registry
	store      conversation.Store
	classifier classifier.Classifier
	table      *routing.Table
	library    *templates.Library
	logger     *zap.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	jobs chan *job
}

type job struct {
	ctx    context.Context
	req    Request
	result *Result
	err    error
	done   chan struct{}
}

func New(registry *provider.Registry, store conversation.Store, clf classifier.Classifier, table *routing.Table, library *templates.Library, logger *zap.Logger) *Agent {
	return &Agent{
		registry:   registry,
		store:      store,
		classifier: clf,
		table:      table,
		library:    library,
		logger:     logger,
		workers:    make(map[string]*worker),
	}
}

// ConversationKey groups history by thread when the message is part of
// one, otherwise by author.
func ConversationKey(msg models.Message) string {
	if msg.ThreadID != "" {
		return "thread:" + msg.Channel + ":" + msg.ThreadID
	}
	return "user:" + msg.Author
}

// Process runs one orchestration. Messages sharing a conversation key are
// processed in arrival order; distinct keys run concurrently.
func (a *Agent) Process(ctx context.Context, req Request) (*Result, error) {
	w := a.worker(ConversationKey(req.Message))

	j := &job{ctx: ctx, req: req, done: make(chan struct{})}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		// The worker drains the in-flight call and discards the result
		// without touching history.
		return nil, ctx.Err()
	}
}

func (a *Agent) worker(key string) *worker {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, exists := a.workers[key]
	if !exists {
		w = &worker{jobs: make(chan *job, 64)}
		a.workers[key] = w
		go a.run(key, w)
	}
	return w
}

func (a *Agent) run(key string, w *worker) {
	for j := range w.jobs {
		j.result, j.err = a.process(j.ctx, key, j.req)
		close(j.done)
	}
}

func (a *Agent) process(ctx context.Context, key string, req Request) (*Result, error) {
	state := StateReceived
	logger := a.logger.With(
		zap.String("message_id", req.Message.ID),
		zap.String("conversation_key", key))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Classification failure is recoverable: the classifier degrades to
	// unknown on its own and we proceed.
	category := a.classifier.Classify(ctx, req.Message.Text, req.ThreadContext)
	state = StateClassified
	logger.Info("message classified", zap.String("category", string(category)))

	rule, err := a.table.Route(category)
	if err != nil {
		// Unreachable with a validated table; an incomplete table is a
		// wiring bug, not a user error.
		logger.Error("routing table is incomplete", zap.Error(err), zap.String("category", string(category)))
		return nil, err
	}
	state = StateRouted

	systemPrompt, err := a.library.Render(rule.Template, templates.Data{
		Category:     category.Title(),
		Team:         rule.EscalationTeam,
		Priority:     rule.Priority,
		RequiredInfo: rule.RequiredInfo,
		Context:      req.Context,
	})
	if err != nil {
		logger.Warn("failed to render prompt template, using generic prompt",
			zap.Error(err), zap.String("template", rule.Template))
		systemPrompt = "You are a helpful engineering support triage assistant."
	}

	history, err := a.store.History(ctx, key)
	if err != nil {
		logger.Warn("failed to load conversation history", zap.Error(err))
		history = nil
	}

	active := a.registry.Active()
	if active == nil {
		return nil, fmt.Errorf("%w: no active provider", ErrDegraded)
	}
	cfg := a.registry.ActiveConfig()

	state = StateGenerating
	opts := req.Options
	opts.SystemPrompt = systemPrompt

	resp, err := a.generateWithRetry(ctx, active, cfg, history, req.Message.Text, opts, logger)
	if err != nil {
		state = StateFailed
		logger.Error("generation failed after retries",
			zap.Error(err),
			zap.String("provider", active.ID()),
			zap.String("state", string(state)))
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}

	if ctx.Err() != nil {
		// Cancelled while generating: the response was drained, now
		// discard it without appending.
		logger.Info("orchestration cancelled, discarding drained response")
		return nil, ctx.Err()
	}

	now := time.Now()
	if err := a.store.Append(ctx, key, models.ConversationTurn{
		Role:      models.RoleUser,
		Content:   req.Message.Text,
		Timestamp: req.Message.Timestamp,
	}); err != nil {
		logger.Error("failed to record user turn", zap.Error(err))
	} else if err := a.store.Append(ctx, key, models.ConversationTurn{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		Timestamp: now,
	}); err != nil {
		logger.Error("failed to record assistant turn", zap.Error(err))
	}

	state = StateCompleted
	logger.Info("orchestration completed",
		zap.String("state", string(state)),
		zap.String("provider", resp.Provider),
		zap.Duration("latency", resp.Latency))

	return &Result{Response: resp, Category: category, Rule: rule}, nil
}

func (a *Agent) generateWithRetry(ctx context.Context, p provider.Provider, cfg provider.Config, history []models.ConversationTurn, message string, opts provider.Options, logger *zap.Logger) (*models.AIResponse, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	attempt := 0
	operation := func() (*models.AIResponse, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := p.Generate(attemptCtx, history, message, opts)
		if err == nil {
			return resp, nil
		}

		switch {
		case errors.Is(err, provider.ErrRateLimited):
			var rl *provider.RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter > 0 {
				// Honor the backend's retry-after before the next attempt.
				select {
				case <-time.After(rl.RetryAfter):
				case <-ctx.Done():
					return nil, backoff.Permanent(ctx.Err())
				}
			}
			logger.Warn("provider rate limited, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		case errors.Is(err, provider.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				// The caller's context expired, not the attempt's.
				return nil, backoff.Permanent(ctx.Err())
			}
			logger.Warn("provider unavailable, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		default:
			// Invalid responses and everything else are not retried.
			return nil, backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)),
		ctx)

	return backoff.RetryWithData(operation, policy)
}

// ClearConversation removes all history for a conversation key.
func (a *Agent) ClearConversation(ctx context.Context, key string) error {
	return a.store.Clear(ctx, key)
}

// Providers lists the registered provider ids.
func (a *Agent) Providers() []string {
	return a.registry.Providers()
}

// ActiveModelInfo reports the active provider and model, or "none".
func (a *Agent) ActiveModelInfo() (providerID, model string) {
	active := a.registry.Active()
	if active == nil {
		return "none", "none"
	}
	return active.ID(), active.ModelName()
}

// SwitchProvider replaces the active provider. On failure the previous
// provider stays active and conversation state is unaffected.
func (a *Agent) SwitchProvider(id string, cfg provider.Config) error {
	p, err := a.registry.SwitchActive(id, cfg)
	if err != nil {
		return err
	}
	a.logger.Info("switched active provider",
		zap.String("provider", p.ID()),
		zap.String("model", p.ModelName()))
	return nil
}

// HealthCheck probes the active provider.
func (a *Agent) HealthCheck(ctx context.Context) (healthy bool, providerID, model string) {
	active := a.registry.Active()
	if active == nil {
		return false, "none", "none"
	}
	return active.HealthCheck(ctx), active.ID(), active.ModelName()
}
