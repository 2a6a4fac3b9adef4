package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a provider instance from its configuration.
type Constructor func(cfg Config) (Provider, error)

// Registry maps provider ids to constructors and owns the single
// process-wide active provider slot.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	active       Provider
	activeCfg    Config
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

func (r *Registry) Register(id string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	r.constructors[id] = c
	return nil
}

func (r *Registry) Create(id string, cfg Config) (Provider, error) {
	r.mu.RLock()
	c, exists := r.constructors[id]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return c(cfg)
}

// SwitchActive atomically replaces the active provider. In-flight requests
// keep the instance they captured via Active; a failed construction leaves
// the previous active provider in effect.
func (r *Registry) SwitchActive(id string, cfg Config) (Provider, error) {
	p, err := r.Create(id, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active = p
	r.activeCfg = cfg
	r.mu.Unlock()

	return p, nil
}

// Active returns the current active provider, or nil before the first
// successful SwitchActive.
func (r *Registry) Active() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registry) ActiveConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCfg
}

// Providers returns the registered provider ids, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
