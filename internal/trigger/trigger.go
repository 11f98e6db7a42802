package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// Execution is a handle to a started playbook execution.
type Execution struct {
	ExecutionID string    `json:"execution_id"`
	Playbook    string    `json:"playbook"`
	StartedAt   time.Time `json:"started_at"`
}

// Trigger starts playbook executions and resumes paused ones.
type Trigger interface {
	// Start starts the named playbook. input["execution_id"], when set, names the execution.
	Start(ctx context.Context, workflowName string, input map[string]any) (*Execution, error)
	// SendSuccess resumes the execution waiting on token with output.
	// Failures carry TOKEN_ALREADY_USED, RESPONSE_DELIVERY_TIMED_OUT or
	// RESPONSE_DELIVERY_FAILED.
	SendSuccess(ctx context.Context, token string, output map[string]any) error
}

// TokenIssuer is implemented by triggers that mint continuation tokens
// for a waiting state themselves.
type TokenIssuer interface {
	IssueToken(ctx context.Context, executionID, stateName string) (string, error)
}

// Config configures the store-backed trigger.
type Config struct {
	// PlaybookPrefix is prepended to playbook names, the way deployments
	// namespace state machine names.
	PlaybookPrefix string
	// TokenTTL bounds how long an issued token stays deliverable. Zero means no expiry.
	TokenTTL time.Duration
}

// StoreTrigger is a local Trigger that records runs and continuation tokens
// in a RunStore. The workflow engine itself lives elsewhere.
type StoreTrigger struct {
	runs   store.RunStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreTrigger creates a StoreTrigger.
func NewStoreTrigger(runs store.RunStore, cfg Config, logger *slog.Logger) *StoreTrigger {
	return &StoreTrigger{
		runs:   runs,
		cfg:    cfg,
		logger: logging.OrDiscard(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (t *StoreTrigger) Start(ctx context.Context, workflowName string, input map[string]any) (*Execution, error) {
	if workflowName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "playbook name is required")
	}
	executionID, _ := input[schema.KeyExecutionID].(string)
	if executionID == "" {
		executionID = ids.GenID(36)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "playbook input is not serializable: %s", err).WithCause(err)
	}

	run := &store.PlaybookRun{
		ExecutionID: executionID,
		Playbook:    t.cfg.PlaybookPrefix + workflowName,
		Input:       raw,
		Status:      store.RunStatusRunning,
		StartedAt:   t.now(),
	}
	if err := t.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logging.LogWith(logging.WithExecutionID(ctx, executionID), t.logger).
		InfoContext(ctx, "playbook started", slog.String("playbook", run.Playbook))
	return &Execution{ExecutionID: executionID, Playbook: run.Playbook, StartedAt: run.StartedAt}, nil
}

// IssueToken creates a continuation token for a state of an execution.
func (t *StoreTrigger) IssueToken(ctx context.Context, executionID, stateName string) (string, error) {
	now := t.now()
	tok := &store.TaskToken{
		Token:       uuid.New().String(),
		ExecutionID: executionID,
		StateName:   stateName,
		CreatedAt:   now,
	}
	if t.cfg.TokenTTL > 0 {
		exp := now.Add(t.cfg.TokenTTL)
		tok.ExpiresAt = &exp
	}
	if err := t.runs.CreateTaskToken(ctx, tok); err != nil {
		return "", err
	}
	return tok.Token, nil
}

func (t *StoreTrigger) SendSuccess(ctx context.Context, token string, output map[string]any) error {
	tok, err := t.runs.GetTaskToken(ctx, token)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return schema.NewError(schema.ErrCodeDeliveryFailed, "Task token is invalid").WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeDeliveryFailed, "failed to look up task token: %s", err).WithCause(err)
	}
	if tok.ConsumedAt != nil {
		return schema.NewError(schema.ErrCodeTokenAlreadyUsed, "Task token has already been used")
	}
	now := t.now()
	if tok.ExpiresAt != nil && now.After(*tok.ExpiresAt) {
		return schema.NewError(schema.ErrCodeDeliveryTimedOut, "Task timed out")
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDeliveryFailed, "task output is not serializable: %s", err).WithCause(err)
	}
	consumed, err := t.runs.ConsumeTaskToken(ctx, token, raw, now)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDeliveryFailed, "failed to consume task token: %s", err).WithCause(err)
	}
	if !consumed {
		return schema.NewError(schema.ErrCodeTokenAlreadyUsed, "Task token has already been used")
	}
	return nil
}

// IsDeliveryError reports whether err is one of the SendSuccess failure classes.
func IsDeliveryError(err error) bool {
	var se *schema.SoarkitError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case schema.ErrCodeTokenAlreadyUsed, schema.ErrCodeDeliveryTimedOut, schema.ErrCodeDeliveryFailed:
		return true
	}
	return false
}

var _ Trigger = (*StoreTrigger)(nil)
