package ops

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore is an in-memory SnapshotStore recording saves.
type mockStore struct {
	mu      sync.Mutex
	entries []StoredOperation
	saves   int
}

func (m *mockStore) SavePending(entries []StoredOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]StoredOperation(nil), entries...)
	m.saves++
	return nil
}

func (m *mockStore) LoadPending() ([]StoredOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredOperation(nil), m.entries...), nil
}

func collectEvents(r *Registry) *[]ChangeEvent {
	events := &[]ChangeEvent{}
	r.Subscribe(func(evt ChangeEvent) {
		*events = append(*events, evt)
	})
	return events
}

func TestRegisterStartedNormalizes(t *testing.T) {
	r := NewRegistry(nil, 0)
	events := collectEvents(r)

	err := r.RegisterStarted(Operation{OperationID: "op-1", ResumeToken: "tok-1"})
	require.NoError(t, err)

	op, ok := r.FindByID("op-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, op.Status)
	assert.False(t, op.CreatedAt.IsZero())

	require.Len(t, *events, 1)
	assert.Equal(t, ChangeStarted, (*events)[0].Type)
	assert.Equal(t, "op-1", (*events)[0].Op.OperationID)
}

func TestRegisterStartedEmptyID(t *testing.T) {
	r := NewRegistry(nil, 0)
	events := collectEvents(r)

	err := r.RegisterStarted(Operation{})
	assert.ErrorIs(t, err, ErrEmptyOperationID)
	assert.Empty(t, *events)
}

func TestRegisterStartedDuplicateRejected(t *testing.T) {
	r := NewRegistry(nil, 0)
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1", TransitionName: "first"}))
	events := collectEvents(r)

	err := r.RegisterStarted(Operation{OperationID: "op-1", TransitionName: "second"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Empty(t, *events)

	op, ok := r.FindByID("op-1")
	require.True(t, ok)
	assert.Equal(t, "first", op.TransitionName)
}

func TestUpdateStatusPendingRefreshesInPlace(t *testing.T) {
	r := NewRegistry(nil, 0)
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1"}))
	events := collectEvents(r)

	r.UpdateStatus("op-1", StatusPending, map[string]any{"partial": true}, "")

	op, ok := r.FindByID("op-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, map[string]any{"partial": true}, op.Result)

	require.Len(t, *events, 1)
	assert.Equal(t, ChangeUpdated, (*events)[0].Type)
}

func TestTerminalStatusRemovesAndMemoizes(t *testing.T) {
	r := NewRegistry(nil, 0)
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1", ResumeToken: "tok-1"}))
	events := collectEvents(r)

	r.MarkCompleted("op-1", map[string]any{"approved": true})

	_, ok := r.FindByID("op-1")
	assert.False(t, ok)
	_, ok = r.FindByToken("tok-1")
	assert.False(t, ok)
	assert.Empty(t, r.ListPending())

	status, ok := r.ResolvedStatus("tok-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)

	require.Len(t, *events, 1)
	assert.Equal(t, ChangeRemoved, (*events)[0].Type)
	assert.Equal(t, StatusCompleted, (*events)[0].Op.Status)
	assert.Equal(t, map[string]any{"approved": true}, (*events)[0].Op.Result)
}

func TestMarkFailedAndCancelledDefaults(t *testing.T) {
	r := NewRegistry(nil, 0)
	events := collectEvents(r)

	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-f", ResumeToken: "tok-f"}))
	r.MarkFailed("op-f", "")
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-c", ResumeToken: "tok-c"}))
	r.MarkCancelled("op-c", "")

	var removed []ChangeEvent
	for _, evt := range *events {
		if evt.Type == ChangeRemoved {
			removed = append(removed, evt)
		}
	}
	require.Len(t, removed, 2)
	assert.Equal(t, StatusFailed, removed[0].Op.Status)
	assert.Equal(t, "failed", removed[0].Op.Error)
	assert.Equal(t, StatusCancelled, removed[1].Op.Status)
	assert.Equal(t, "cancelled", removed[1].Op.Error)

	status, ok := r.ResolvedStatus("tok-f")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, status)
	status, ok = r.ResolvedStatus("tok-c")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, status)
}

func TestUpdateStatusUnknownIDIsNoop(t *testing.T) {
	r := NewRegistry(nil, 0)
	events := collectEvents(r)

	r.UpdateStatus("nope", StatusCompleted, nil, "")
	r.MarkFailed("nope", "boom")

	assert.Empty(t, *events)
	assert.Empty(t, r.ListPending())
}

func TestListPendingOrderedByCreatedAt(t *testing.T) {
	r := NewRegistry(nil, 0)
	base := time.Now()
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-2", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1", CreatedAt: base}))
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-3", CreatedAt: base.Add(2 * time.Second)}))

	pending := r.ListPending()
	require.Len(t, pending, 3)
	assert.Equal(t, "op-1", pending[0].OperationID)
	assert.Equal(t, "op-2", pending[1].OperationID)
	assert.Equal(t, "op-3", pending[2].OperationID)
}

func TestSummaryMatchesPendingList(t *testing.T) {
	r := NewRegistry(nil, 0)
	assert.Equal(t, 0, r.Summary().Count)

	created := time.Now().Add(-2 * time.Second)
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1", CreatedAt: created}))
	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-2"}))

	s := r.Summary()
	assert.Equal(t, len(r.ListPending()), s.Count)
	assert.Equal(t, created.Unix(), s.OldestCreatedAt.Unix())
	assert.GreaterOrEqual(t, s.OldestAgeMs, int64(2000))

	// Age is monotonically non-decreasing with no mutation in between.
	again := r.Summary()
	assert.GreaterOrEqual(t, again.OldestAgeMs, s.OldestAgeMs)

	r.MarkCompleted("op-1", nil)
	r.MarkCompleted("op-2", nil)
	assert.Equal(t, 0, r.Summary().Count)
}

func TestSnapshotPersistedOnEveryMutation(t *testing.T) {
	store := &mockStore{}
	r := NewRegistry(store, 0)

	require.NoError(t, r.RegisterStarted(Operation{
		OperationID: "op-1",
		ResumeToken: "tok-1",
		RunID:       "run-9",
		Result:      map[string]any{"noise": true},
	}))
	require.Len(t, store.entries, 1)
	assert.Equal(t, "op-1", store.entries[0].OperationID)
	assert.Equal(t, "tok-1", store.entries[0].ResumeToken)
	assert.Equal(t, "run-9", store.entries[0].RunID)

	r.MarkCompleted("op-1", "done")
	assert.Empty(t, store.entries)
	assert.Equal(t, 2, store.saves)
}

func TestRestoreFromSnapshot(t *testing.T) {
	store := &mockStore{}
	first := NewRegistry(store, 0)
	require.NoError(t, first.RegisterStarted(Operation{
		OperationID:   "op-1",
		ResumeToken:   "tok-1",
		OperationType: "form",
		Timeout:       time.Minute,
	}))

	second := NewRegistry(store, 0)
	op, ok := second.FindByID("op-1")
	require.True(t, ok)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, "form", op.OperationType)
	assert.Equal(t, time.Minute, op.Timeout)
	// Result and error are never restored.
	assert.Nil(t, op.Result)
	assert.Empty(t, op.Error)

	op, ok = second.FindByToken("tok-1")
	require.True(t, ok)
	assert.Equal(t, "op-1", op.OperationID)
}

func TestResolvedCacheUpdatedAtomicallyWithRemoval(t *testing.T) {
	// The removal from the live indices and the resolved-cache memo happen
	// in the same critical section: a subscriber observing the removed
	// event can already see the resolved status.
	r := NewRegistry(nil, 0)
	var observed Status
	var found bool
	r.Subscribe(func(evt ChangeEvent) {
		if evt.Type == ChangeRemoved {
			observed, found = r.ResolvedStatus(evt.Op.ResumeToken)
		}
	})

	require.NoError(t, r.RegisterStarted(Operation{OperationID: "op-1", ResumeToken: "tok-1"}))
	r.MarkFailed("op-1", "boom")

	require.True(t, found)
	assert.Equal(t, StatusFailed, observed)
}

func TestRemainingAdvisoryTimeout(t *testing.T) {
	now := time.Now()
	op := &Operation{CreatedAt: now.Add(-30 * time.Second), Timeout: time.Minute}
	left := op.Remaining(now)
	assert.InDelta(t, 30*time.Second, left, float64(time.Second))

	op.Timeout = 0
	assert.Zero(t, op.Remaining(now))

	op.Timeout = 10 * time.Second
	assert.Zero(t, op.Remaining(now))
}
