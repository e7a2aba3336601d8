package bridge

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/haymant/evolve/internal/dap"
	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/pkg/logger"
)

// Submission sources, recorded for log correlation.
const (
	SourceHTTP   = "http"
	SourceSocket = "socket"
	SourceLambda = "lambda"
)

// Deliverer pushes a submit payload to the engine over an attached debug
// session. *dap.Session satisfies this.
type Deliverer interface {
	SendRequest(ctx context.Context, method string, params any) (result []byte, err error)
}

// Dispatcher funnels every answer for a pending operation through one path:
// deliver the payload to the engine first, then settle the registry entry.
// Delivery prefers an attached debug session; otherwise the payload goes to
// the hub's single active socket client. A delivery failure does not block
// settlement: the answer was attempted, and the registry reflects that.
type Dispatcher struct {
	registry *ops.Registry
	hub      *Hub
	log      zerolog.Logger

	mu      sync.RWMutex
	session Deliverer // nil when no debug session is attached

	// override replaces transport delivery entirely; used by tests and
	// embedders that intercept submits before they reach the engine.
	override func(ctx context.Context, payload map[string]any) error
}

// NewDispatcher creates a dispatcher settling into registry and delivering
// through hub.
func NewDispatcher(registry *ops.Registry, hub *Hub) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		hub:      hub,
		log:      logger.Get().With().Str("component", "dispatcher").Logger(),
	}
}

// AttachSession designates a debug session as the preferred delivery
// channel. Pass nil to detach.
func (d *Dispatcher) AttachSession(s Deliverer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = s
}

// DetachSession clears s if it is still the attached session. A session
// that was already replaced stays replaced.
func (d *Dispatcher) DetachSession(s Deliverer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == s {
		d.session = nil
	}
}

// SetDeliveryOverride replaces transport delivery with fn. Pass nil to
// restore normal delivery.
func (d *Dispatcher) SetDeliveryOverride(fn func(ctx context.Context, payload map[string]any) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.override = fn
}

// Submit delivers an answer for op and settles it: a non-empty errMsg fails
// the operation, otherwise it completes with result.
func (d *Dispatcher) Submit(ctx context.Context, op ops.Operation, result any, errMsg, source string) error {
	// The engine expects both keys on every frame, error null when absent.
	payload := map[string]any{
		"operationId": op.OperationID,
		"resumeToken": op.ResumeToken,
		"result":      result,
		"error":       nil,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}

	d.deliver(ctx, payload, source)

	if errMsg != "" {
		d.registry.MarkFailed(op.OperationID, errMsg)
	} else {
		d.registry.MarkCompleted(op.OperationID, result)
	}

	d.log.Info().
		Str("operation_id", op.OperationID).
		Str("source", source).
		Bool("failed", errMsg != "").
		Msg("Operation settled")
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, payload map[string]any, source string) {
	d.mu.RLock()
	override, session := d.override, d.session
	d.mu.RUnlock()

	if override != nil {
		if err := override(ctx, payload); err != nil {
			d.log.Warn().Err(err).Str("source", source).Msg("Delivery override failed")
		}
		return
	}

	if session != nil {
		_, err := session.SendRequest(ctx, dap.RequestSubmit, payload)
		if err == nil {
			return
		}
		d.log.Warn().Err(err).Str("source", source).Msg("Debug session delivery failed, trying socket")
	}

	if err := d.hub.Deliver(dap.RequestSubmit, payload); err != nil {
		d.log.Warn().Err(err).Str("source", source).Msg("No transport accepted delivery")
	}
}
