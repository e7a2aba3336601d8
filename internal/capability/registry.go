// Package capability exposes host capabilities to the engine process as a
// small RPC surface: named methods invoked with JSON params over whichever
// bridge transport the engine is connected through.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownMethod is returned when no capability is registered for a
// method name. It is an RPC-level error; it never affects operation state.
var ErrUnknownMethod = errors.New("unknown request type")

// Func handles a single capability invocation.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Invoker dispatches a method call to a host capability.
type Invoker interface {
	Invoke(ctx context.Context, method string, params map[string]any) (any, error)
}

// Registry maps method names to capability funcs. Safe for concurrent use.
// Method names arriving from the debug channel carry a "vscode/" namespace
// prefix, which is stripped before lookup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Func
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Func)}
}

// Register adds a capability under the given method name.
func (r *Registry) Register(method string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = fn
}

// Invoke dispatches a call to the registered capability.
func (r *Registry) Invoke(ctx context.Context, method string, params map[string]any) (any, error) {
	name := strings.TrimPrefix(method, "vscode/")

	r.mu.RLock()
	fn, ok := r.methods[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if params == nil {
		params = map[string]any{}
	}
	return fn(ctx, params)
}

// Methods returns the registered method names.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	return names
}
