package conversation

import (
	"context"
	"sync"

	"github.com/xaenox/triage-bot/internal/models"
)

// Store keeps per-conversation turn history, bounded to the newest N turns.
type Store interface {
	// Append adds a turn, evicting the oldest turns beyond the bound.
	Append(ctx context.Context, key string, turn models.ConversationTurn) error
	// History returns an immutable snapshot in append order.
	History(ctx context.Context, key string) ([]models.ConversationTurn, error)
	// Clear removes all history for the key. Clearing an absent key is a no-op.
	Clear(ctx context.Context, key string) error
	Close() error
}

const DefaultMaxTurns = 10

// MemoryStore is the default in-memory store. Each key owns its own
// buffer and lock, so unrelated conversations never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	maxTurns int
	buffers  map[string]*turnBuffer
}

type turnBuffer struct {
	mu    sync.Mutex
	turns []models.ConversationTurn
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &MemoryStore{
		maxTurns: maxTurns,
		buffers:  make(map[string]*turnBuffer),
	}
}

func (s *MemoryStore) Append(ctx context.Context, key string, turn models.ConversationTurn) error {
	buf := s.buffer(key)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.turns = append(buf.turns, turn)
	if len(buf.turns) > s.maxTurns {
		// FIFO eviction: drop the oldest, keep append order intact
		excess := len(buf.turns) - s.maxTurns
		buf.turns = append([]models.ConversationTurn(nil), buf.turns[excess:]...)
	}
	return nil
}

func (s *MemoryStore) History(ctx context.Context, key string) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	buf, exists := s.buffers[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	snapshot := make([]models.ConversationTurn, len(buf.turns))
	copy(snapshot, buf.turns)
	return snapshot, nil
}

func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buffers, key)
	return nil
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func (s *MemoryStore) buffer(key string) *turnBuffer {
	s.mu.RLock()
	buf, exists := s.buffers[key]
	s.mu.RUnlock()
	if exists {
		return buf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, exists = s.buffers[key]; exists {
		return buf
	}
	buf = &turnBuffer{}
	s.buffers[key] = buf
	return buf
}
