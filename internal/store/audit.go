package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AppendAudit appends an entry to an execution's audit trail with a
// monotonically increasing per-execution sequence.
func (s *LibSQLStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; a write forces the
	// lock before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_audit WHERE execution_id = ?`, entry.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	entry.Sequence = seq

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_audit (execution_id, sequence, kind, state_name, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, seq, entry.Kind, nullStr(entry.StateName), nullRaw(entry.Payload), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit entry: %w", err)
	}
	return nil
}

// ListAudit returns entries of an execution with sequence > since, ordered by sequence.
func (s *LibSQLStore) ListAudit(ctx context.Context, executionID string, since int64) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, sequence, kind, state_name, payload, timestamp
		 FROM execution_audit WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var stateName, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Sequence, &e.Kind, &stateName, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.StateName = stateName.String
		e.Payload = rawOrNil(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
