package actions

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc is a registered custom action implementation.
type HandlerFunc func(ctx context.Context, inv *Invocation) (Result, error)

// Registry maps custom action identifiers to handler functions. Handlers are
// registered at startup, before the executor runs anything, so lookups take
// the read lock only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

// Register binds an identifier to a handler, replacing any previous binding.
func (r *Registry) Register(identifier string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[identifier] = fn
}

// Execute dispatches a custom action to its registered handler. An unknown
// identifier is a failed execution, not a panic.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (Result, error) {
	var cfg struct {
		Identifier string `json:"identifier"`
	}
	if err := inv.Action.DecodeConfig(&cfg); err != nil {
		return Result{}, fmt.Errorf("invalid custom action config: %w", err)
	}

	r.mu.RLock()
	fn, ok := r.handlers[cfg.Identifier]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("no custom handler registered for %q", cfg.Identifier)
	}
	return fn(ctx, inv)
}
