package storage

import (
	"database/sql"
	"time"

	"github.com/haymant/evolve/internal/ops"
)

// SavePending replaces the persisted snapshot of live pending operations.
// Terminal operations are never written; the snapshot always mirrors the
// live registry exactly.
func (db *DB) SavePending(entries []ops.StoredOperation) error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM pending_operations"); err != nil {
			return err
		}
		for _, entry := range entries {
			_, err := tx.Exec(
				`INSERT INTO pending_operations
				 (operation_id, transition_id, transition_name, resume_token, run_id, net_id, operation_type, created_at_ms, timeout_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				entry.OperationID,
				entry.TransitionID,
				entry.TransitionName,
				entry.ResumeToken,
				entry.RunID,
				entry.NetID,
				entry.OperationType,
				entry.CreatedAt.UnixMilli(),
				entry.Timeout.Milliseconds(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPending reads the persisted snapshot, oldest first.
func (db *DB) LoadPending() ([]ops.StoredOperation, error) {
	rows, err := db.Query(
		`SELECT operation_id, transition_id, transition_name, resume_token, run_id, net_id, operation_type, created_at_ms, timeout_ms
		 FROM pending_operations ORDER BY created_at_ms ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ops.StoredOperation
	for rows.Next() {
		var entry ops.StoredOperation
		var createdMs, timeoutMs int64
		if err := rows.Scan(
			&entry.OperationID,
			&entry.TransitionID,
			&entry.TransitionName,
			&entry.ResumeToken,
			&entry.RunID,
			&entry.NetID,
			&entry.OperationType,
			&createdMs,
			&timeoutMs,
		); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(createdMs)
		entry.Timeout = time.Duration(timeoutMs) * time.Millisecond
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
