package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/soarkit/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *schema.ExecutionRecord) error {
	results, err := marshalMapOrDefault(rec.Results)
	if err != nil {
		return fmt.Errorf("marshal execution results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, datetime, investigation_id, results) VALUES (?, ?, ?, ?)`,
		rec.ExecutionID, rec.Datetime, rec.InvestigationID, string(results),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create execution %q: %s", rec.ExecutionID, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error) {
	rec := &schema.ExecutionRecord{}
	var results string
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, datetime, investigation_id, results FROM executions WHERE execution_id = ?`, executionID,
	).Scan(&rec.ExecutionID, &rec.Datetime, &rec.InvestigationID, &results)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", executionID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return nil, fmt.Errorf("unmarshal execution results: %w", err)
	}
	if rec.Results == nil {
		rec.Results = map[string]any{}
	}
	return rec, nil
}

// SaveStateResults is a single UPDATE using json_set so that concurrent writers
// of different state names never overwrite each other's slots.
func (s *LibSQLStore) SaveStateResults(ctx context.Context, executionID, stateName string, result map[string]any, errs map[string]any) error {
	if stateName == "" || strings.ContainsAny(stateName, `"\`) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid state name %q", stateName)
	}
	resultJSON, err := marshalMapOrDefault(result)
	if err != nil {
		return fmt.Errorf("marshal state result: %w", err)
	}

	statePath := fmt.Sprintf(`$.results."%s"`, stateName)
	lastPath := fmt.Sprintf(`$.results."%s"`, schema.KeyLastSavedResults)

	query := `UPDATE executions SET results = json_set(results, ?, json(?), ?, json(?)`
	args := []any{statePath, string(resultJSON), lastPath, string(resultJSON)}
	if len(errs) > 0 {
		errsJSON, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("marshal state errors: %w", err)
		}
		query += `, '$.errors', json(?)`
		args = append(args, string(errsJSON))
	}
	query += `), updated_at = CURRENT_TIMESTAMP WHERE execution_id = ?`
	args = append(args, executionID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save results of %q: %s", stateName, err.Error()).
			WithCause(err).WithState(stateName)
	}
	return checkRowsAffected(res, "execution", executionID)
}

// --- Events ---

func (s *LibSQLStore) PutEvent(ctx context.Context, e *schema.Event) error {
	details, err := marshalMapOrDefault(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	dataTypes, err := marshalMapOrDefault(e.DataTypes)
	if err != nil {
		return fmt.Errorf("marshal event data_types: %w", err)
	}
	meta, err := marshalMapOrDefault(e.EventMeta)
	if err != nil {
		return fmt.Errorf("marshal event meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, created_at, event_type, investigation_id, status, is_duplicate, playbook, details, data_types, event_meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   investigation_id=excluded.investigation_id, status=excluded.status, is_duplicate=excluded.is_duplicate,
		   playbook=excluded.playbook, details=excluded.details, data_types=excluded.data_types, event_meta=excluded.event_meta`,
		e.ID, e.CreatedAt, e.EventType, e.InvestigationID, e.Status, e.IsDuplicate, nullStr(e.Playbook),
		string(details), string(dataTypes), string(meta),
	)
	return err
}

const eventColumns = `id, created_at, event_type, investigation_id, status, is_duplicate, playbook, details, data_types, event_meta`

func (s *LibSQLStore) GetEvent(ctx context.Context, id string) (*schema.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("event", id)
	}
	return e, err
}

func (s *LibSQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]*schema.Event, error) {
	var where []string
	var args []any

	if filter.InvestigationID != "" {
		where = append(where, "investigation_id = ?")
		args = append(args, filter.InvestigationID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateInvestigationStatus sets the status of the event that opened the
// investigation (id == investigation_id). Duplicates keep their closed status.
func (s *LibSQLStore) UpdateInvestigationStatus(ctx context.Context, investigationID, status string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE id = ? AND investigation_id = ?`,
		status, investigationID, investigationID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, storeNotFound("investigation", investigationID)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*schema.Event, error) {
	e := &schema.Event{}
	var playbook sql.NullString
	var details, dataTypes, meta string
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.InvestigationID, &e.Status, &e.IsDuplicate,
		&playbook, &details, &dataTypes, &meta); err != nil {
		return nil, err
	}
	e.Playbook = playbook.String
	for _, f := range []struct {
		raw string
		dst *map[string]any
	}{{details, &e.Details}, {dataTypes, &e.DataTypes}, {meta, &e.EventMeta}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal event %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// --- Dedup ---

func (s *LibSQLStore) GetDedupMapping(ctx context.Context, hash string) (*DedupMapping, error) {
	m := &DedupMapping{}
	err := s.db.QueryRowContext(ctx,
		`SELECT dedup_hash, current_investigation_id, updated_at FROM dedup_mappings WHERE dedup_hash = ?`, hash,
	).Scan(&m.DedupHash, &m.CurrentInvestigationID, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("dedup mapping", hash)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PutDedupMapping is last-writer-wins.
func (s *LibSQLStore) PutDedupMapping(ctx context.Context, m *DedupMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_mappings (dedup_hash, current_investigation_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(dedup_hash) DO UPDATE SET current_investigation_id=excluded.current_investigation_id, updated_at=excluded.updated_at`,
		m.DedupHash, m.CurrentInvestigationID, timeOrNow(m.UpdatedAt),
	)
	return err
}

// --- Message responses ---

func (s *LibSQLStore) PutMessage(ctx context.Context, msg *schema.ResponseMessage) error {
	payload, err := nullableMap(msg.ResponsePayload)
	if err != nil {
		return fmt.Errorf("marshal response payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO message_responses (message_id, datetime, investigation_id, message, fulfilled, execution_id, receiver, await_token, response_payload, fulfilled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET
		   datetime=excluded.datetime, investigation_id=excluded.investigation_id, message=excluded.message,
		   fulfilled=excluded.fulfilled, execution_id=excluded.execution_id, receiver=excluded.receiver,
		   await_token=excluded.await_token, response_payload=excluded.response_payload, fulfilled_at=excluded.fulfilled_at`,
		msg.MessageID, msg.Datetime, msg.InvestigationID, msg.Message, msg.Fulfilled, msg.ExecutionID,
		msg.Receiver, msg.AwaitToken, payload, nullTime(msg.FulfilledAt),
	)
	return err
}

const messageColumns = `message_id, datetime, investigation_id, message, fulfilled, execution_id, receiver, await_token, response_payload, fulfilled_at`

func (s *LibSQLStore) GetMessage(ctx context.Context, messageID string) (*schema.ResponseMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message_responses WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("message", messageID)
	}
	return msg, err
}

func (s *LibSQLStore) FulfillMessage(ctx context.Context, messageID string, payload map[string]any) error {
	raw, err := nullableMap(payload)
	if err != nil {
		return fmt.Errorf("marshal response payload: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_responses SET fulfilled = 1, response_payload = ?, fulfilled_at = ? WHERE message_id = ?`,
		raw, time.Now().UTC(), messageID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "message", messageID)
}

func (s *LibSQLStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*schema.ResponseMessage, error) {
	var where []string
	var args []any

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.Fulfilled != nil {
		where = append(where, "fulfilled = ?")
		args = append(args, *filter.Fulfilled)
	}

	query := `SELECT ` + messageColumns + ` FROM message_responses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY datetime DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*schema.ResponseMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(row rowScanner) (*schema.ResponseMessage, error) {
	msg := &schema.ResponseMessage{}
	var payload sql.NullString
	var fulfilledAt sql.NullTime
	if err := row.Scan(&msg.MessageID, &msg.Datetime, &msg.InvestigationID, &msg.Message, &msg.Fulfilled,
		&msg.ExecutionID, &msg.Receiver, &msg.AwaitToken, &payload, &fulfilledAt); err != nil {
		return nil, err
	}
	if raw := rawOrNil(payload); raw != nil {
		if err := json.Unmarshal(raw, &msg.ResponsePayload); err != nil {
			return nil, fmt.Errorf("unmarshal response payload: %w", err)
		}
	}
	if fulfilledAt.Valid {
		msg.FulfilledAt = &fulfilledAt.Time
	}
	return msg, nil
}

// --- Blobs ---

func (s *LibSQLStore) PutBlob(ctx context.Context, key, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (key, content, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET content=excluded.content`,
		key, content, time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) GetBlob(ctx context.Context, key string) (*Blob, error) {
	b := &Blob{}
	err := s.db.QueryRowContext(ctx, `SELECT key, content, created_at FROM blobs WHERE key = ?`, key).
		Scan(&b.Key, &b.Content, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("blob", key)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *LibSQLStore) DeleteBlob(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "blob", key)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Runs and task tokens ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *PlaybookRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playbook_runs (execution_id, playbook, input, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ExecutionID, run.Playbook, string(run.Input), run.Status, timeOrNow(run.StartedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", run.ExecutionID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, executionID string) (*PlaybookRun, error) {
	r := &PlaybookRun{}
	var input string
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, playbook, input, status, started_at FROM playbook_runs WHERE execution_id = ?`, executionID,
	).Scan(&r.ExecutionID, &r.Playbook, &input, &r.Status, &r.StartedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", executionID)
	}
	if err != nil {
		return nil, err
	}
	r.Input = json.RawMessage(input)
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*PlaybookRun, error) {
	query := `SELECT execution_id, playbook, input, status, started_at FROM playbook_runs`
	var args []any
	if filter.Playbook != "" {
		query += " WHERE playbook = ?"
		args = append(args, filter.Playbook)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*PlaybookRun
	for rows.Next() {
		r := &PlaybookRun{}
		var input string
		if err := rows.Scan(&r.ExecutionID, &r.Playbook, &input, &r.Status, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Input = json.RawMessage(input)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) CreateTaskToken(ctx context.Context, tok *TaskToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_tokens (token, execution_id, state_name, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		tok.Token, tok.ExecutionID, tok.StateName, nullTime(tok.ExpiresAt), timeOrNow(tok.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTaskToken(ctx context.Context, token string) (*TaskToken, error) {
	t := &TaskToken{}
	var expiresAt, consumedAt sql.NullTime
	var output sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT token, execution_id, state_name, expires_at, consumed_at, output, created_at FROM task_tokens WHERE token = ?`, token,
	).Scan(&t.Token, &t.ExecutionID, &t.StateName, &expiresAt, &consumedAt, &output, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("task token", token)
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	t.Output = rawOrNil(output)
	return t, nil
}

// ConsumeTaskToken is a conditional UPDATE, so a token is consumed at most once
// even with concurrent deliveries.
func (s *LibSQLStore) ConsumeTaskToken(ctx context.Context, token string, output []byte, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_tokens SET consumed_at = ?, output = ? WHERE token = ? AND consumed_at IS NULL`,
		at, string(output), token,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- Scheduled batches ---

func (s *LibSQLStore) CreateScheduledBatch(ctx context.Context, job *ScheduledBatch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_batches (id, name, cron_expression, batch, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.CronExpression, string(job.Batch), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

const scheduledColumns = `id, name, cron_expression, batch, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledBatch(ctx context.Context, id string) (*ScheduledBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_batches WHERE id = ?`, id)
	job, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled batch", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledBatch(ctx context.Context, id string, update ScheduledBatchUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE scheduled_batches SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled batch", id)
}

func (s *LibSQLStore) ListScheduledBatches(ctx context.Context, filter ScheduledBatchFilter) ([]*ScheduledBatch, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_batches`
	var args []any
	if filter.Enabled != nil {
		query += " WHERE enabled = ?"
		args = append(args, *filter.Enabled)
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledBatch
	for rows.Next() {
		job, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_batches WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled batch", id)
}

func scanScheduled(row rowScanner) (*ScheduledBatch, error) {
	job := &ScheduledBatch{}
	var batch string
	var lastRun, nextRun sql.NullTime
	var status sql.NullString
	if err := row.Scan(&job.ID, &job.Name, &job.CronExpression, &batch, &job.Enabled,
		&lastRun, &nextRun, &status, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Batch = json.RawMessage(batch)
	job.LastRunStatus = status.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.SoarkitError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
