// Package ids generates identifiers and timestamps shared by events,
// executions and human interactions.
package ids

import (
	"time"

	"github.com/google/uuid"
)

const maxIDLength = 36

// GenID returns a random UUIDv4 string truncated to limit characters.
// A limit outside (0, 36] yields the full 36-character form.
func GenID(limit int) string {
	id := uuid.New().String()
	if limit <= 0 || limit > maxIDLength {
		return id
	}
	return id[:limit]
}

// Now returns the current UTC time as an ISO-8601 string with microsecond
// precision and a trailing Z.
func Now() string {
	return Format(time.Now())
}

// Format renders t in the same layout as Now.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// EmptyStringsToNil returns a copy of v where every empty string nested in
// maps and slices is replaced by nil. Timeouts reported by the workflow
// engine carry an empty cause, which must be stored as null.
func EmptyStringsToNil(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = EmptyStringsToNil(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = EmptyStringsToNil(item)
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return val
	default:
		return v
	}
}
