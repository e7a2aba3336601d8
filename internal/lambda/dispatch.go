package lambda

import (
	"context"
	"fmt"
	"sync"

	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/pkg/logger"
)

// Submitter applies an answer through the submission dispatcher. Exactly one
// of result/errMsg is meaningful: a non-empty errMsg fails the operation.
type Submitter interface {
	Submit(ctx context.Context, op ops.Operation, result any, errMsg, source string) error
}

// Dispatcher runs managed handlers for lambda-typed operations and feeds
// their outcome back through the submission path. A per-operation in-flight
// guard prevents re-entrant double invocation.
type Dispatcher struct {
	registry  *Registry
	submitter Submitter

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDispatcher creates a dispatcher resolving handlers from registry and
// submitting outcomes through submitter.
func NewDispatcher(registry *Registry, submitter Submitter) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		submitter: submitter,
		inFlight:  make(map[string]struct{}),
	}
}

// ResolveParams extracts the operation params, falling back to
// metadata.operationParams the way the engine sometimes delivers them.
func ResolveParams(op ops.Operation) map[string]any {
	if len(op.OperationParams) > 0 {
		return op.OperationParams
	}
	if op.Metadata != nil {
		if nested, ok := op.Metadata["operationParams"].(map[string]any); ok {
			return nested
		}
	}
	return nil
}

// Dispatch resolves a lambda operation: looks up the handler named in the
// operation params, invokes it once, and submits the result or error. An
// unknown handler fails the operation through the normal terminal path.
// Handler panics are converted to handler errors; they never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, op ops.Operation) {
	if !d.acquire(op.OperationID) {
		return
	}
	defer d.release(op.OperationID)

	params := ResolveParams(op)
	name, _ := params["name"].(string)
	args, _ := params["args"].([]any)

	handler, ok := d.registry.Get(name)
	if !ok {
		if name == "" {
			name = "unknown"
		}
		d.submit(ctx, op, nil, fmt.Sprintf("Unknown lambda handler: %s", name))
		return
	}

	result, err := d.invoke(ctx, handler, args, op)
	if err != nil {
		d.submit(ctx, op, nil, err.Error())
		return
	}
	d.submit(ctx, op, result, "")
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, args []any, op ops.Operation) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lambda handler panic: %v", rec)
		}
	}()
	return handler(ctx, args, op)
}

func (d *Dispatcher) submit(ctx context.Context, op ops.Operation, result any, errMsg string) {
	if err := d.submitter.Submit(ctx, op, result, errMsg, "lambda"); err != nil {
		logger.Warn().
			Err(err).
			Str("operation_id", op.OperationID).
			Msg("Failed to submit lambda outcome")
	}
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}
