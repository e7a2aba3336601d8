// Package ops owns the pending-operation registry: the in-memory store of
// workflow transitions suspended by the engine process awaiting an external
// answer, keyed by operation id and by resume token.
package ops

import "time"

// Status is the lifecycle state of an operation. Pending is the only
// non-terminal state; terminal entries are removed from the live registry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends the operation's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Operation is a suspended workflow transition awaiting resolution.
// The descriptive fields are opaque to the registry; it only keys on
// OperationID and ResumeToken.
type Operation struct {
	OperationID           string
	ResumeToken           string
	TransitionID          string
	TransitionName        string
	TransitionDescription string
	InscriptionID         string
	NetID                 string
	RunID                 string
	OperationType         string
	OperationParams       map[string]any
	Status                Status
	UIState               map[string]any
	Metadata              map[string]any
	CreatedAt             time.Time
	Timeout               time.Duration // advisory; the registry never auto-expires
	Result                any
	Error                 string
}

// Remaining returns the advisory time left before the operation's timeout,
// or zero if no timeout was set or it has elapsed.
func (op *Operation) Remaining(now time.Time) time.Duration {
	if op.Timeout <= 0 {
		return 0
	}
	left := op.Timeout - now.Sub(op.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Summary describes the live registry for status surfaces.
type Summary struct {
	Count           int       `json:"count"`
	OldestCreatedAt time.Time `json:"oldestCreatedAt,omitzero"`
	OldestAgeMs     int64     `json:"oldestAgeMs,omitempty"`
}

// ChangeType identifies a registry change notification.
type ChangeType string

const (
	ChangeStarted ChangeType = "started"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// ChangeEvent is delivered to subscribers on every registry mutation.
// Op is a copy; subscribers must not expect later mutations to be visible.
type ChangeEvent struct {
	Type ChangeType
	Op   Operation
}

// StoredOperation is the durable subset of an operation persisted across
// host restarts. Result, error and UI state are never persisted.
type StoredOperation struct {
	OperationID    string        `json:"operationId"`
	TransitionID   string        `json:"transitionId,omitempty"`
	TransitionName string        `json:"transitionName,omitempty"`
	ResumeToken    string        `json:"resumeToken,omitempty"`
	RunID          string        `json:"runId,omitempty"`
	NetID          string        `json:"netId,omitempty"`
	OperationType  string        `json:"operationType,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Timeout        time.Duration `json:"timeoutMs,omitempty"`
}

// SnapshotStore persists the live pending set so operations survive a host
// restart. Implementations must replace the previous snapshot atomically.
type SnapshotStore interface {
	SavePending(entries []StoredOperation) error
	LoadPending() ([]StoredOperation, error)
}
