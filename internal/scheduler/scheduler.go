package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// Run statuses recorded on a scheduled batch.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// BatchRunner creates the events of a batch. Satisfied by events.Service.
type BatchRunner interface {
	CreateBatch(ctx context.Context, batch schema.EventBatch) (*schema.BatchResult, error)
}

// Scheduler polls the store for due scheduled batches and runs them.
type Scheduler struct {
	store   store.ScheduleStore
	runner  BatchRunner
	parser  cron.Parser
	metrics *metrics.Recorder
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // batch IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.ScheduleStore, runner BatchRunner, m *metrics.Recorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		metrics:  m,
		logger:   logging.OrDiscard(logger),
		inflight: make(map[string]struct{}),
	}
}

// Schedule validates cronExpr and stores batch as a new enabled scheduled
// batch due at the next cron tick.
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpr string, batch schema.EventBatch) (*store.ScheduledBatch, error) {
	if batch.EventType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Error: event_type must be supplied")
	}
	now := time.Now().UTC()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "batch is not serializable: %s", err).WithCause(err)
	}

	job := &store.ScheduledBatch{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: cronExpr,
		Batch:          raw,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateScheduledBatch(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "batch scheduled",
		slog.String("batch_id", job.ID),
		slog.String("cron", cronExpr),
		slog.Time("next_run_at", next),
	)
	return job, nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled batch that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledBatches(ctx, store.ScheduledBatchFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled batches", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			if !s.tryAcquire(job.ID) {
				continue
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to run scheduled batch",
					slog.String("batch_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
			s.releaseJob(job.ID)
		}
	}
}

// runJob creates the events of a scheduled batch and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledBatch, now time.Time) error {
	s.logger.Info("running scheduled batch",
		slog.String("batch_id", job.ID),
		slog.String("name", job.Name),
	)

	var batch schema.EventBatch
	if err := json.Unmarshal(job.Batch, &batch); err != nil {
		s.metrics.ScheduledBatchRun(false)
		return s.updateJobStatus(ctx, job, now, StatusError)
	}

	result, err := s.runner.CreateBatch(ctx, batch)
	status := StatusSuccess
	if err != nil {
		status = StatusError
		s.logger.Error("scheduled batch failed",
			slog.String("batch_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled batch created events",
			slog.String("batch_id", job.ID),
			slog.Int("events", len(result.Events)),
		)
	}
	s.metrics.ScheduledBatchRun(err == nil)

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledBatch, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for batch %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledBatch(ctx, job.ID, store.ScheduledBatchUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the batch as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every batch whose next_run_at has passed.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledBatches(ctx, store.ScheduledBatchFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed batches: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.Before(now) {
			if !s.tryAcquire(job.ID) {
				continue
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to recover missed batch",
					slog.String("batch_id", job.ID),
					slog.String("error", err.Error()),
				)
				s.releaseJob(job.ID)
				continue
			}
			s.releaseJob(job.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed batches", slog.Int("count", recovered))
	}
	return nil
}
