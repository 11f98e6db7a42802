package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/internal/trigger"
	"github.com/rendis/soarkit/pkg/schema"
)

// Deps holds the collaborators of a Service.
type Deps struct {
	Events     store.EventStore
	Dedup      store.DedupStore
	Executions store.ExecutionStore
	Audit      store.AuditStore
	Trigger    trigger.Trigger
	// Filter evaluates EventBatch.Filter. Batches with a filter fail when nil.
	Filter  *expressions.CELFilter
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Service creates events and starts the playbooks that handle them.
type Service struct {
	deps    Deps
	creator *Creator
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := logging.OrDiscard(deps.Logger)
	return &Service{
		deps:    deps,
		creator: NewCreator(deps.Events, deps.Dedup, deps.Metrics, logger),
		logger:  logger,
	}
}

// CreateEvent creates a single event without starting a playbook.
func (s *Service) CreateEvent(ctx context.Context, in schema.EventInput) (*schema.Event, error) {
	return s.creator.Create(ctx, in)
}

// CreateBatch creates one event per entry of batch.Details and starts
// batch.Playbook for every created event. Playbook start
// failures are reported per event in the result; event creation failures
// abort the batch.
func (s *Service) CreateBatch(ctx context.Context, batch schema.EventBatch) (*schema.BatchResult, error) {
	if batch.EventType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Error: event_type must be supplied")
	}
	details := batch.Details
	if len(details) == 0 {
		details = []map[string]any{{}}
	}
	if batch.Filter != "" && s.deps.Filter == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "batch filter given but no filter evaluator is configured")
	}

	result := &schema.BatchResult{Status: true, Message: []schema.PlaybookStatus{}}
	for _, detail := range details {
		if batch.Filter != "" {
			ok, err := s.deps.Filter.Match(ctx, batch.Filter, expressions.FilterInput{
				EventType: batch.EventType,
				Details:   detail,
				DataTypes: batch.DataTypes,
				EventMeta: batch.EventMeta,
			})
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		event, err := s.creator.Create(ctx, schema.EventInput{
			EventType: batch.EventType,
			CreatedAt: batch.CreatedAt,
			Details:   detail,
			DataTypes: batch.DataTypes,
			EventMeta: batch.EventMeta,
			DedupKeys: batch.DedupKeys,
			Playbook:  batch.Playbook,
		})
		if err != nil {
			return nil, err
		}
		result.Events = append(result.Events, event)

		if batch.Playbook != "" {
			result.Message = append(result.Message, s.ExecutePlaybook(ctx, batch.Playbook, event))
		}
	}
	return result, nil
}

// ExecutePlaybook records a new execution context for event and starts
// playbook with it. Failures are reported in the returned status.
func (s *Service) ExecutePlaybook(ctx context.Context, playbook string, event *schema.Event) schema.PlaybookStatus {
	status, err := s.executePlaybook(ctx, playbook, event)
	s.deps.Metrics.PlaybookStarted(err == nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "playbook start failed",
			slog.String("playbook", playbook),
			slog.String("investigation_id", event.InvestigationID),
			slog.String("error", err.Error()))
		return schema.PlaybookStatus{Status: false, Message: fmt.Sprintf("Error: %s", err)}
	}
	return status
}

func (s *Service) executePlaybook(ctx context.Context, playbook string, event *schema.Event) (schema.PlaybookStatus, error) {
	if s.deps.Executions == nil || s.deps.Trigger == nil {
		return schema.PlaybookStatus{}, schema.NewError(schema.ErrCodePlaybookStart, "no execution store or trigger configured")
	}

	executionID := ids.GenID(36)
	ctx = logging.WithExecutionID(logging.WithInvestigationID(ctx, event.InvestigationID), executionID)
	doc := schema.NewExecutionDocument(executionID, event.Map())

	rec := &schema.ExecutionRecord{
		ExecutionID:     executionID,
		Datetime:        ids.Now(),
		InvestigationID: event.InvestigationID,
		Results:         doc,
	}
	if err := s.deps.Executions.CreateExecution(ctx, rec); err != nil {
		return schema.PlaybookStatus{}, err
	}
	s.audit(ctx, executionID, map[string]any{"playbook": playbook, "investigation_id": event.InvestigationID})

	input := map[string]any{
		schema.KeyExecutionID: executionID,
		schema.KeyArtifacts:   doc[schema.KeyArtifacts],
	}
	if _, err := s.deps.Trigger.Start(ctx, playbook, input); err != nil {
		return schema.PlaybookStatus{}, err
	}
	return schema.PlaybookStatus{
		Status: true,
		Message: map[string]any{
			schema.KeyExecutionID: executionID,
			"investigation_id":    event.InvestigationID,
		},
	}, nil
}

// SetInvestigationStatus sets the status of the event that opened an
// investigation. Closing an investigation lets the next matching event open
// a new one.
func (s *Service) SetInvestigationStatus(ctx context.Context, investigationID, status string) error {
	if status != schema.StatusOpen && status != schema.StatusClosed {
		return schema.NewErrorf(schema.ErrCodeValidation, "status must be %q or %q, got %q",
			schema.StatusOpen, schema.StatusClosed, status)
	}
	if _, err := s.deps.Events.UpdateInvestigationStatus(ctx, investigationID, status); err != nil {
		return err
	}
	logging.LogWith(logging.WithInvestigationID(ctx, investigationID), s.logger).
		InfoContext(ctx, "investigation status updated", slog.String("status", status))
	return nil
}

func (s *Service) audit(ctx context.Context, executionID string, payload map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	raw, _ := json.Marshal(payload)
	entry := &store.AuditEntry{ExecutionID: executionID, Kind: store.AuditExecutionCreated, Payload: raw}
	if err := s.deps.Audit.AppendAudit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit append failed", slog.String("error", err.Error()))
	}
}
