package lambda

import (
	"context"

	"github.com/haymant/evolve/internal/ops"
)

// RegisterBuiltins installs the handlers every bridge host ships with.
func RegisterBuiltins(reg *Registry) {
	reg.Register("score", scoreHandler)
}

// scoreHandler wraps its first argument as a score value. Engines use it as
// a smoke test for the lambda path.
func scoreHandler(_ context.Context, args []any, _ ops.Operation) (any, error) {
	var first any
	if len(args) > 0 {
		first = args[0]
	}
	return map[string]any{"score": first}, nil
}
