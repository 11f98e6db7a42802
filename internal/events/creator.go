package events

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

var createdAtPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{1,6}Z$`)

// Creator creates single events, collapsing duplicates of an open
// investigation into it.
type Creator struct {
	events  store.EventStore
	dedup   store.DedupStore
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewCreator creates a Creator.
func NewCreator(events store.EventStore, dedup store.DedupStore, m *metrics.Recorder, logger *slog.Logger) *Creator {
	return &Creator{events: events, dedup: dedup, metrics: m, logger: logging.OrDiscard(logger)}
}

// Create validates in, deduplicates it and persists the event.
//
// With dedup keys, the hash's mapping is looked up: if it points at an
// investigation that is not closed, the new event joins it as a closed
// duplicate. Otherwise the event opens a new investigation and claims the
// mapping. Concurrent claims are last writer wins.
func (c *Creator) Create(ctx context.Context, in schema.EventInput) (*schema.Event, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	id := ids.GenID(36)
	event := &schema.Event{
		ID:              id,
		CreatedAt:       in.CreatedAt,
		DataTypes:       orEmpty(in.DataTypes),
		Details:         orEmpty(in.Details),
		EventType:       in.EventType,
		EventMeta:       orEmpty(in.EventMeta),
		InvestigationID: id,
		Status:          schema.StatusOpen,
		Playbook:        in.Playbook,
	}
	if event.CreatedAt == "" {
		event.CreatedAt = ids.Now()
	}

	if len(in.DedupKeys) > 0 {
		hash, err := DedupHash(in.EventType, event.Details, in.DedupKeys)
		if err != nil {
			return nil, err
		}
		if err := c.deduplicate(ctx, event, hash); err != nil {
			return nil, err
		}
		if !event.IsDuplicate {
			mapping := &store.DedupMapping{DedupHash: hash, CurrentInvestigationID: event.InvestigationID}
			if err := c.dedup.PutDedupMapping(ctx, mapping); err != nil {
				return nil, err
			}
		}
	}

	if err := c.events.PutEvent(ctx, event); err != nil {
		return nil, err
	}
	c.metrics.EventCreated(event.EventType, event.IsDuplicate)
	logging.LogWith(logging.WithInvestigationID(ctx, event.InvestigationID), c.logger).
		DebugContext(ctx, "event created",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.EventType),
			slog.Bool("is_duplicate", event.IsDuplicate))
	return event, nil
}

func (c *Creator) deduplicate(ctx context.Context, event *schema.Event, hash string) error {
	mapping, err := c.dedup.GetDedupMapping(ctx, hash)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil
		}
		return err
	}
	if mapping.CurrentInvestigationID == "" {
		c.logger.WarnContext(ctx, "unmapped dedup_hash detected", slog.String("dedup_hash", hash))
		return nil
	}

	current, err := c.events.GetEvent(ctx, mapping.CurrentInvestigationID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil
		}
		return err
	}
	if current.Status != schema.StatusClosed {
		event.InvestigationID = current.InvestigationID
		event.Status = schema.StatusClosed
		event.IsDuplicate = true
	}
	return nil
}

func validateInput(in schema.EventInput) error {
	if in.EventType == "" {
		return schema.NewError(schema.ErrCodeValidation, "Error: event_type must be supplied")
	}
	if in.CreatedAt != "" {
		if !createdAtPattern.MatchString(in.CreatedAt) {
			return invalidCreatedAt(in.CreatedAt)
		}
		if _, err := time.Parse(time.RFC3339Nano, in.CreatedAt); err != nil {
			return invalidCreatedAt(in.CreatedAt)
		}
	}
	for _, k := range in.DedupKeys {
		if k == "" {
			return schema.NewError(schema.ErrCodeValidation, "Error: Supplied 'dedup_keys' contains an empty key")
		}
	}
	return nil
}

func invalidCreatedAt(v string) error {
	return schema.NewError(schema.ErrCodeValidation,
		"Error: Supplied 'created_at' field is not ISO8601 millisecond-precision string, shifted to UTC").
		WithDetails(map[string]any{"created_at": v})
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
