package events

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/pkg/schema"
)

// DedupHash is the md5 hex digest of the lower-cased event type followed by
// the sorted, lower-cased values of the dedup keys. Key order does not
// matter; a key absent from details is a DEDUP_KEY_MISSING error.
func DedupHash(eventType string, details map[string]any, dedupKeys []string) (string, error) {
	vals := make([]string, 0, len(dedupKeys))
	for _, key := range dedupKeys {
		v, ok := details[key]
		if !ok {
			return "", schema.NewErrorf(schema.ErrCodeDedupKey, "dedup key %q not found in event details", key).
				WithDetails(map[string]any{"field": key})
		}
		vals = append(vals, strings.ToLower(expressions.Stringify(v)))
	}
	sort.Strings(vals)

	sum := md5.Sum([]byte(strings.ToLower(eventType) + strings.Join(vals, "")))
	return hex.EncodeToString(sum[:]), nil
}
