package schema

// Investigation status values stored on events.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// CreatedAtLayout is the layout of generated event timestamps (UTC,
// microsecond precision, trailing Z). Caller-supplied values may carry
// one to six fractional digits.
const CreatedAtLayout = "2006-01-02T15:04:05.000000Z"

// Event is a persisted investigation event.
type Event struct {
	ID              string         `json:"id"`
	CreatedAt       string         `json:"created_at"`
	DataTypes       map[string]any `json:"data_types"`
	Details         map[string]any `json:"details"`
	EventType       string         `json:"event_type"`
	EventMeta       map[string]any `json:"event_meta"`
	InvestigationID string         `json:"investigation_id"`
	Status          string         `json:"status_"`
	IsDuplicate     bool           `json:"is_duplicate"`
	Playbook        string         `json:"playbook,omitempty"`
}

// Map returns the event as a generic document, the shape handed to playbooks
// as artifacts.event.
func (e *Event) Map() map[string]any {
	m := map[string]any{
		"id":               e.ID,
		"created_at":       e.CreatedAt,
		"data_types":       orEmpty(e.DataTypes),
		"details":          orEmpty(e.Details),
		"event_type":       e.EventType,
		"event_meta":       orEmpty(e.EventMeta),
		"investigation_id": e.InvestigationID,
		"status_":          e.Status,
		"is_duplicate":     e.IsDuplicate,
	}
	if e.Playbook != "" {
		m["playbook"] = e.Playbook
	}
	return m
}

// EventInput describes a single event to create.
type EventInput struct {
	EventType string         `json:"event_type" yaml:"event_type"`
	CreatedAt string         `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	DataTypes map[string]any `json:"data_types,omitempty" yaml:"data_types,omitempty"`
	EventMeta map[string]any `json:"event_meta,omitempty" yaml:"event_meta,omitempty"`
	DedupKeys []string       `json:"dedup_keys,omitempty" yaml:"dedup_keys,omitempty"`
	Playbook  string         `json:"playbook,omitempty" yaml:"playbook,omitempty"`
}

// EventBatch describes several detections sharing one event type. One event
// is created per entry in Details.
type EventBatch struct {
	EventType string           `json:"event_type" yaml:"event_type"`
	CreatedAt string           `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Details   []map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	DataTypes map[string]any   `json:"data_types,omitempty" yaml:"data_types,omitempty"`
	EventMeta map[string]any   `json:"event_meta,omitempty" yaml:"event_meta,omitempty"`
	DedupKeys []string         `json:"dedup_keys,omitempty" yaml:"dedup_keys,omitempty"`
	Playbook  string           `json:"playbook,omitempty" yaml:"playbook,omitempty"`
	// Filter is an optional CEL boolean expression; details for which it
	// evaluates to false are skipped.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// PlaybookStatus reports the outcome of starting one playbook execution.
// Message holds {execution_id, investigation_id} on success and an
// "Error: ..." string on failure.
type PlaybookStatus struct {
	Status  bool `json:"status"`
	Message any  `json:"message"`
}

// BatchResult is returned by event batch creation.
type BatchResult struct {
	Status  bool             `json:"status"`
	Message []PlaybookStatus `json:"message"`
	Events  []*Event         `json:"events,omitempty"`
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
