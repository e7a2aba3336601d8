package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haymant/evolve/internal/lambda"
	"github.com/haymant/evolve/internal/ops"
)

func TestIngestStartedNormalizesFields(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{
		"operationId":    "op-1",
		"resumeToken":    "tok-1",
		"transitionId":   "t-1",
		"transitionName": "Approve",
		"netId":          "net-1",
		"runId":          "run-1",
		"operationType":  "form",
		"timeoutMs":      30000,
		"uiState":        map[string]any{"open": true},
	})
	ingest.HandleEvent("asyncOperationStarted", body)

	op, found := registry.FindByID("op-1")
	require.True(t, found)
	assert.Equal(t, "tok-1", op.ResumeToken)
	assert.Equal(t, "Approve", op.TransitionName)
	assert.Equal(t, 30*time.Second, op.Timeout)
	assert.Equal(t, map[string]any{"open": true}, op.UIState)
	assert.Equal(t, ops.StatusPending, op.Status)
}

func TestIngestStartedHonorsEngineCreatedAt(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	reported := time.Now().Add(-45 * time.Minute).Truncate(time.Millisecond)
	body, _ := json.Marshal(map[string]any{
		"operationId": "op-old",
		"resumeToken": "tok-old",
		"createdAt":   reported.UnixMilli(),
	})
	ingest.HandleEvent("asyncOperationStarted", body)

	op, found := registry.FindByID("op-old")
	require.True(t, found)
	assert.Equal(t, reported.UnixMilli(), op.CreatedAt.UnixMilli())
}

func TestIngestStartedDefaultsCreatedAtToNow(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{"operationId": "op-now", "resumeToken": "tok-now"})
	ingest.HandleEvent("asyncOperationStarted", body)

	op, found := registry.FindByID("op-now")
	require.True(t, found)
	assert.WithinDuration(t, time.Now(), op.CreatedAt, 2*time.Second)
}

func TestIngestStartedIDFallback(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{"id": "op-alt", "resumeToken": "tok-alt"})
	ingest.HandleEvent("asyncOperationStarted", body)

	_, found := registry.FindByID("op-alt")
	assert.True(t, found)
}

func TestIngestStartedTimeoutFromMetadata(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	for name, key := range map[string]string{
		"camel": "timeoutMs",
		"plain": "timeout",
		"snake": "timeout_ms",
	} {
		t.Run(name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{
				"operationId": "op-" + name,
				"metadata":    map[string]any{key: 1500},
			})
			ingest.HandleEvent("asyncOperationStarted", body)

			op, found := registry.FindByID("op-" + name)
			require.True(t, found)
			assert.Equal(t, 1500*time.Millisecond, op.Timeout)
		})
	}
}

func TestIngestStartedTimeoutFromNumericString(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{
		"operationId": "op-str",
		"metadata":    map[string]any{"timeout": "5000"},
	})
	ingest.HandleEvent("asyncOperationStarted", body)

	op, found := registry.FindByID("op-str")
	require.True(t, found)
	assert.Equal(t, 5*time.Second, op.Timeout)
}

func TestIngestStartedLambdaTypeCaseInsensitive(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	dispatcher := NewDispatcher(registry, NewHub())

	handlers := lambda.NewRegistry()
	require.NoError(t, handlers.Register("echo", func(_ context.Context, args []any, _ ops.Operation) (any, error) {
		return args, nil
	}))

	ingest := NewIngestor(registry, lambda.NewDispatcher(handlers, dispatcher))

	body, _ := json.Marshal(map[string]any{
		"operationId":     "op-case",
		"resumeToken":     "tok-case",
		"operationType":   "Lambda",
		"operationParams": map[string]any{"name": "echo", "args": []any{1}},
	})
	ingest.HandleEvent("asyncOperationStarted", body)

	assert.Eventually(t, func() bool {
		status, ok := registry.ResolvedStatus("tok-case")
		return ok && status == ops.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestIngestStartedMissingIDDropped(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{"resumeToken": "tok-x"})
	ingest.HandleEvent("asyncOperationStarted", body)

	assert.Empty(t, registry.ListPending())
}

func TestIngestUpdatedAppliesTerminalStatus(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	require.NoError(t, registry.RegisterStarted(ops.Operation{OperationID: "op-1", ResumeToken: "tok-1"}))

	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{
		"operationId": "op-1",
		"status":      "completed",
		"result":      "fine",
	})
	ingest.HandleEvent("asyncOperationUpdated", body)

	_, found := registry.FindByID("op-1")
	assert.False(t, found)

	status, ok := registry.ResolvedStatus("tok-1")
	require.True(t, ok)
	assert.Equal(t, ops.StatusCompleted, status)
}

func TestIngestUpdatedUnknownIDIsNoOp(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{"operationId": "ghost", "status": "completed"})
	ingest.HandleEvent("asyncOperationUpdated", body)

	assert.Empty(t, registry.ListPending())
	_, ok := registry.ResolvedStatus("ghost")
	assert.False(t, ok)
}

func TestIngestShortEventNames(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	body, _ := json.Marshal(map[string]any{"operationId": "op-short", "resumeToken": "tok-short"})
	ingest.HandleEvent("operationStarted", body)

	_, found := registry.FindByID("op-short")
	require.True(t, found)

	update, _ := json.Marshal(map[string]any{"operationId": "op-short", "status": "cancelled"})
	ingest.HandleEvent("operationUpdated", update)

	status, ok := registry.ResolvedStatus("tok-short")
	require.True(t, ok)
	assert.Equal(t, ops.StatusCancelled, status)
}

func TestIngestUnknownEventIgnored(t *testing.T) {
	registry := ops.NewRegistry(nil, 0)
	ingest := NewIngestor(registry, nil)

	ingest.HandleEvent("somethingElse", json.RawMessage(`{"operationId":"op-1"}`))
	assert.Empty(t, registry.ListPending())
}
