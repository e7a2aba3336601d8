package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/haymant/evolve/internal/dap"
	"github.com/haymant/evolve/internal/lambda"
	"github.com/haymant/evolve/internal/ops"
	"github.com/haymant/evolve/pkg/logger"
)

var errMissingOperationID = errors.New("bridge: event missing operation id")

// Ingestor normalizes engine lifecycle events into registry operations and
// kicks off lambda resolution for lambda-typed operations. It serves as the
// event sink for both transports: socket clients and the debug session.
type Ingestor struct {
	registry *ops.Registry
	lambdas  *lambda.Dispatcher
	log      zerolog.Logger
}

// NewIngestor creates an ingestor feeding registry and lambdas.
func NewIngestor(registry *ops.Registry, lambdas *lambda.Dispatcher) *Ingestor {
	return &Ingestor{
		registry: registry,
		lambdas:  lambdas,
		log:      logger.Get().With().Str("component", "ingest").Logger(),
	}
}

// HandleSocketEvent implements the hub's EventSink.
func (in *Ingestor) HandleSocketEvent(event string, body json.RawMessage) {
	in.HandleEvent(event, body)
}

// isLifecycleEvent reports whether name is a recognized lifecycle event,
// in either the asyncOperation* spelling or the short form.
func isLifecycleEvent(name string) bool {
	switch name {
	case dap.EventOperationStarted, dap.EventOperationUpdated,
		"operationStarted", "operationUpdated":
		return true
	}
	return false
}

// HandleEvent routes a lifecycle event by name. Unknown events are logged
// and dropped.
func (in *Ingestor) HandleEvent(event string, body json.RawMessage) {
	switch event {
	case dap.EventOperationStarted, "operationStarted":
		if err := in.ingestStarted(body); err != nil {
			in.log.Warn().Err(err).Msg("Dropped started event")
		}
	case dap.EventOperationUpdated, "operationUpdated":
		if err := in.ingestUpdated(body); err != nil {
			in.log.Warn().Err(err).Msg("Dropped updated event")
		}
	default:
		in.log.Debug().Str("event", event).Msg("Ignoring unknown event")
	}
}

func (in *Ingestor) ingestStarted(body json.RawMessage) error {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return err
	}

	op := normalizeOperation(raw)
	if op.OperationID == "" {
		return errMissingOperationID
	}

	if err := in.registry.RegisterStarted(op); err != nil {
		return err
	}

	if strings.EqualFold(op.OperationType, "lambda") && in.lambdas != nil {
		go in.lambdas.Dispatch(context.Background(), op)
	}
	return nil
}

func (in *Ingestor) ingestUpdated(body json.RawMessage) error {
	var raw struct {
		OperationID string `json:"operationId"`
		ID          string `json:"id"`
		Status      string `json:"status"`
		Result      any    `json:"result"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return err
	}

	id := raw.OperationID
	if id == "" {
		id = raw.ID
	}
	if id == "" {
		return errMissingOperationID
	}

	status := ops.Status(raw.Status)
	if !status.Valid() {
		status = ops.StatusPending
	}
	in.registry.UpdateStatus(id, status, raw.Result, raw.Error)
	return nil
}

// normalizeOperation maps a loosely-typed started payload onto an
// Operation. Engines are inconsistent about where they put the id, the
// timeout, and the params; every known spelling is accepted.
func normalizeOperation(raw map[string]any) ops.Operation {
	op := ops.Operation{
		OperationID:           stringField(raw, "operationId", "id"),
		ResumeToken:           stringField(raw, "resumeToken"),
		TransitionID:          stringField(raw, "transitionId"),
		TransitionName:        stringField(raw, "transitionName"),
		TransitionDescription: stringField(raw, "transitionDescription"),
		InscriptionID:         stringField(raw, "inscriptionId"),
		NetID:                 stringField(raw, "netId"),
		RunID:                 stringField(raw, "runId"),
		OperationType:         stringField(raw, "operationType"),
		Status:                ops.StatusPending,
		CreatedAt:             time.Now(),
	}

	// Engines that track their own clock report createdAt in epoch ms.
	if ms, ok := numberField(raw, "createdAt"); ok && ms > 0 {
		op.CreatedAt = time.UnixMilli(int64(ms))
	}

	if state, ok := raw["uiState"].(map[string]any); ok {
		op.UIState = state
	}
	if params, ok := raw["operationParams"].(map[string]any); ok {
		op.OperationParams = params
	}
	if meta, ok := raw["metadata"].(map[string]any); ok {
		op.Metadata = meta
	}

	if ms, ok := numberField(raw, "timeoutMs"); ok {
		op.Timeout = time.Duration(ms) * time.Millisecond
	} else if op.Metadata != nil {
		for _, key := range []string{"timeout", "timeoutMs", "timeout_ms"} {
			if ms, ok := numberField(op.Metadata, key); ok {
				op.Timeout = time.Duration(ms) * time.Millisecond
				break
			}
		}
	}
	return op
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
