package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haymant/evolve/internal/capability"
)

// DebugHandler adapts an attached debug session to the bridge: lifecycle
// events feed the ingestor, inbound requests are host capability calls.
type DebugHandler struct {
	ingest  *Ingestor
	invoker capability.Invoker
}

// NewDebugHandler creates a handler for a debug session.
func NewDebugHandler(ingest *Ingestor, invoker capability.Invoker) *DebugHandler {
	return &DebugHandler{ingest: ingest, invoker: invoker}
}

// HandleEvent feeds a lifecycle event to the ingestor.
func (h *DebugHandler) HandleEvent(event string, body json.RawMessage) {
	h.ingest.HandleEvent(event, body)
}

// HandleRequest invokes a host capability by method name.
func (h *DebugHandler) HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, error) {
	var p map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	return h.invoker.Invoke(ctx, method, p)
}
