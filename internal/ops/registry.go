package ops

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/haymant/evolve/pkg/logger"
)

var (
	// ErrEmptyOperationID is returned when an operation arrives without an id.
	ErrEmptyOperationID = errors.New("operation id is required")

	// ErrAlreadyRegistered is returned when a started event re-uses a live
	// operation id. Re-registration is rejected rather than replacing the
	// live entry, so consumers of the change stream never see a second
	// started event for the same id.
	ErrAlreadyRegistered = errors.New("operation already registered")
)

// Registry is the live store of pending operations. All mutations are
// serialized under a single mutex; change notifications fire outside the
// lock, after the mutation and its snapshot persist have been applied.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*Operation
	byToken  map[string]string
	resolved *resolvedCache
	store    SnapshotStore
	subs     []func(ChangeEvent)
}

// NewRegistry creates a registry backed by the given snapshot store and
// restores any previously persisted pending operations. A nil store
// disables persistence.
func NewRegistry(store SnapshotStore, resolvedCapacity int) *Registry {
	r := &Registry{
		byID:     make(map[string]*Operation),
		byToken:  make(map[string]string),
		resolved: newResolvedCache(resolvedCapacity),
		store:    store,
	}
	r.restore()
	return r
}

// Subscribe registers a change listener. Listeners are invoked in
// registration order, synchronously with the mutating call.
func (r *Registry) Subscribe(fn func(ChangeEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// RegisterStarted inserts a new pending operation. The entry is normalized:
// a missing status defaults to pending and a missing creation time to now.
func (r *Registry) RegisterStarted(op Operation) error {
	if op.OperationID == "" {
		return ErrEmptyOperationID
	}
	if op.Status == "" {
		op.Status = StatusPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}

	r.mu.Lock()
	if _, exists := r.byID[op.OperationID]; exists {
		r.mu.Unlock()
		logger.Warn().Str("operation_id", op.OperationID).Msg("Duplicate operation registration rejected")
		return ErrAlreadyRegistered
	}
	stored := op
	r.byID[op.OperationID] = &stored
	if op.ResumeToken != "" {
		r.byToken[op.ResumeToken] = op.OperationID
	}
	r.persistLocked()
	subs := r.subs
	r.mu.Unlock()

	fire(subs, ChangeEvent{Type: ChangeStarted, Op: op})
	return nil
}

// UpdateStatus applies a status change. Unknown ids are ignored. A pending
// status refreshes the result/error snapshot in place; a terminal status
// removes the operation from the live indices and memoizes its resume token
// in the resolved cache, atomically with the removal.
func (r *Registry) UpdateStatus(id string, status Status, result any, errMsg string) {
	r.mu.Lock()
	op, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	op.Status = status
	if result != nil {
		op.Result = result
	}
	if errMsg != "" {
		op.Error = errMsg
	}

	if status == StatusPending {
		r.persistLocked()
		evt := ChangeEvent{Type: ChangeUpdated, Op: *op}
		subs := r.subs
		r.mu.Unlock()
		fire(subs, evt)
		return
	}

	r.removeLocked(op)
	evt := ChangeEvent{Type: ChangeRemoved, Op: *op}
	subs := r.subs
	r.mu.Unlock()
	fire(subs, evt)
}

// MarkCompleted resolves an operation successfully. No-op on unknown ids.
func (r *Registry) MarkCompleted(id string, result any) {
	r.UpdateStatus(id, StatusCompleted, result, "")
}

// MarkFailed resolves an operation with an error. No-op on unknown ids.
func (r *Registry) MarkFailed(id, errMsg string) {
	if errMsg == "" {
		errMsg = "failed"
	}
	r.UpdateStatus(id, StatusFailed, nil, errMsg)
}

// MarkCancelled resolves an operation as cancelled. No-op on unknown ids.
func (r *Registry) MarkCancelled(id, reason string) {
	if reason == "" {
		reason = "cancelled"
	}
	r.UpdateStatus(id, StatusCancelled, nil, reason)
}

// ListPending returns copies of all live operations, oldest first.
func (r *Registry) ListPending() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Operation, 0, len(r.byID))
	for _, op := range r.byID {
		result = append(result, *op)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// FindByID returns a copy of the live operation with the given id.
func (r *Registry) FindByID(id string) (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.byID[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// FindByToken resolves a resume token to its live operation.
func (r *Registry) FindByToken(token string) (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return Operation{}, false
	}
	op, ok := r.byID[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// ResolvedStatus returns the terminal status memoized for a resume token
// that is no longer live.
func (r *Registry) ResolvedStatus(token string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved.get(token)
}

// Summary reports the live count and the age of the oldest entry.
func (r *Registry) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Count: len(r.byID)}
	if s.Count == 0 {
		return s
	}
	var oldest time.Time
	for _, op := range r.byID {
		if oldest.IsZero() || op.CreatedAt.Before(oldest) {
			oldest = op.CreatedAt
		}
	}
	s.OldestCreatedAt = oldest
	s.OldestAgeMs = time.Since(oldest).Milliseconds()
	return s
}

// removeLocked drops a terminal operation from both live indices and
// memoizes its token. Caller holds the mutex.
func (r *Registry) removeLocked(op *Operation) {
	delete(r.byID, op.OperationID)
	if op.ResumeToken != "" {
		delete(r.byToken, op.ResumeToken)
		r.resolved.put(op.ResumeToken, op.Status)
	}
	r.persistLocked()
}

// persistLocked writes the durable snapshot of the live set. Persistence
// failures are logged and do not affect the in-memory state machine.
func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	entries := make([]StoredOperation, 0, len(r.byID))
	for _, op := range r.byID {
		entries = append(entries, StoredOperation{
			OperationID:    op.OperationID,
			TransitionID:   op.TransitionID,
			TransitionName: op.TransitionName,
			ResumeToken:    op.ResumeToken,
			RunID:          op.RunID,
			NetID:          op.NetID,
			OperationType:  op.OperationType,
			CreatedAt:      op.CreatedAt,
			Timeout:        op.Timeout,
		})
	}
	if err := r.store.SavePending(entries); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist pending operations snapshot")
	}
}

func (r *Registry) restore() {
	if r.store == nil {
		return
	}
	entries, err := r.store.LoadPending()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to restore pending operations snapshot")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		if entry.OperationID == "" {
			continue
		}
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		op := &Operation{
			OperationID:    entry.OperationID,
			TransitionID:   entry.TransitionID,
			TransitionName: entry.TransitionName,
			ResumeToken:    entry.ResumeToken,
			RunID:          entry.RunID,
			NetID:          entry.NetID,
			OperationType:  entry.OperationType,
			CreatedAt:      createdAt,
			Timeout:        entry.Timeout,
			Status:         StatusPending,
		}
		r.byID[op.OperationID] = op
		if op.ResumeToken != "" {
			r.byToken[op.ResumeToken] = op.OperationID
		}
	}
	if len(entries) > 0 {
		logger.Info().Int("count", len(entries)).Msg("Restored pending operations from snapshot")
	}
}

func fire(subs []func(ChangeEvent), evt ChangeEvent) {
	for _, fn := range subs {
		fn(evt)
	}
}
