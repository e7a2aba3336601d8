// Package lambda provides the registry and dispatch for managed operations:
// pending operations the host resolves automatically through a named handler
// instead of waiting for a human.
package lambda

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/haymant/evolve/internal/ops"
)

// ErrEmptyName is returned when a handler is registered without a name.
var ErrEmptyName = errors.New("lambda handler name is required")

// Handler resolves a managed operation. It receives the arguments from the
// operation's params and the operation record itself.
type Handler func(ctx context.Context, args []any, op ops.Operation) (any, error)

// Registry maps handler names to handlers. Safe for concurrent use.
// The last registration for a name wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under the given name, replacing any previous one.
func (r *Registry) Register(name string, handler Handler) error {
	key := strings.TrimSpace(name)
	if key == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
	return nil
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Clear removes all handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
}
