package store

import (
	"encoding/json"
	"time"
)

// DedupMapping links a dedup hash to the investigation that currently owns it.
type DedupMapping struct {
	DedupHash              string    `json:"dedup_hash"`
	CurrentInvestigationID string    `json:"current_investigation_id"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Blob is a stored blob with its metadata.
type Blob struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatusRunning is the status of a run recorded by the local trigger.
const RunStatusRunning = "running"

// PlaybookRun is a playbook execution started through the trigger.
type PlaybookRun struct {
	ExecutionID string          `json:"execution_id"`
	Playbook    string          `json:"playbook"`
	Input       json.RawMessage `json:"input"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
}

// TaskToken is a continuation token issued to a state waiting on an external response.
type TaskToken struct {
	Token       string          `json:"token"`
	ExecutionID string          `json:"execution_id"`
	StateName   string          `json:"state_name"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	ConsumedAt  *time.Time      `json:"consumed_at,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ScheduledBatch is a cron-triggered event batch.
type ScheduledBatch struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	CronExpression string          `json:"cron_expression"`
	Batch          json.RawMessage `json:"batch"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Audit entry kinds.
const (
	AuditExecutionCreated  = "execution_created"
	AuditStateSaved        = "state_saved"
	AuditResponseDelivered = "response_delivered"
)

// AuditEntry is an immutable record in an execution's audit trail.
type AuditEntry struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int64           `json:"sequence"`
	Kind        string          `json:"kind"`
	StateName   string          `json:"state_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// --- Filter / Update types ---

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	InvestigationID string `json:"investigation_id,omitempty"`
	EventType       string `json:"event_type,omitempty"`
	Status          string `json:"status,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// MessageFilter specifies criteria for listing human interaction records.
type MessageFilter struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Fulfilled   *bool  `json:"fulfilled,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// RunFilter specifies criteria for listing playbook runs.
type RunFilter struct {
	Playbook string `json:"playbook,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ScheduledBatchUpdate specifies mutable fields of a scheduled batch.
type ScheduledBatchUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledBatchFilter specifies criteria for listing scheduled batches.
type ScheduledBatchFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
