package store

import (
	"context"
	"time"

	"github.com/rendis/soarkit/pkg/schema"
)

// ExecutionStore persists playbook execution context documents.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, rec *schema.ExecutionRecord) error
	// GetExecution is a consistent read: it observes every committed SaveStateResults.
	GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error)
	// SaveStateResults overwrites results.<stateName> and results._Last_Saved_Results
	// and, when errs is non-empty, replaces the errors slot. Other states are untouched.
	SaveStateResults(ctx context.Context, executionID, stateName string, result map[string]any, errs map[string]any) error
}

// EventStore persists investigation events.
type EventStore interface {
	PutEvent(ctx context.Context, event *schema.Event) error
	GetEvent(ctx context.Context, id string) (*schema.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*schema.Event, error)
	UpdateInvestigationStatus(ctx context.Context, investigationID, status string) (int64, error)
}

// DedupStore maps dedup hashes to the investigation currently owning them.
type DedupStore interface {
	GetDedupMapping(ctx context.Context, hash string) (*DedupMapping, error)
	PutDedupMapping(ctx context.Context, mapping *DedupMapping) error
}

// MessageStore persists human interaction records.
type MessageStore interface {
	PutMessage(ctx context.Context, msg *schema.ResponseMessage) error
	GetMessage(ctx context.Context, messageID string) (*schema.ResponseMessage, error)
	FulfillMessage(ctx context.Context, messageID string, payload map[string]any) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]*schema.ResponseMessage, error)
}

// BlobStore is a flat-namespace text object store.
type BlobStore interface {
	PutBlob(ctx context.Context, key, content string) error
	GetBlob(ctx context.Context, key string) (*Blob, error)
	DeleteBlob(ctx context.Context, key string) error
}

// SecretStore persists opaque (already encrypted) secret values.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// RunStore backs the local workflow trigger: started runs and their
// continuation tokens.
type RunStore interface {
	CreateRun(ctx context.Context, run *PlaybookRun) error
	GetRun(ctx context.Context, executionID string) (*PlaybookRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*PlaybookRun, error)
	CreateTaskToken(ctx context.Context, tok *TaskToken) error
	GetTaskToken(ctx context.Context, token string) (*TaskToken, error)
	// ConsumeTaskToken marks an unconsumed token consumed and stores its output.
	// It reports false when the token was already consumed.
	ConsumeTaskToken(ctx context.Context, token string, output []byte, at time.Time) (bool, error)
}

// ScheduleStore persists cron-scheduled event batches.
type ScheduleStore interface {
	CreateScheduledBatch(ctx context.Context, job *ScheduledBatch) error
	GetScheduledBatch(ctx context.Context, id string) (*ScheduledBatch, error)
	UpdateScheduledBatch(ctx context.Context, id string, update ScheduledBatchUpdate) error
	ListScheduledBatches(ctx context.Context, filter ScheduledBatchFilter) ([]*ScheduledBatch, error)
	DeleteScheduledBatch(ctx context.Context, id string) error
}

// AuditStore is the append-only per-execution audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, executionID string, since int64) ([]*AuditEntry, error)
}

// Store defines the full persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	ExecutionStore
	EventStore
	DedupStore
	MessageStore
	BlobStore
	SecretStore
	RunStore
	ScheduleStore
	AuditStore

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
