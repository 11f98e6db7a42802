package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/pkg/schema"
)

func TestDedupHash(t *testing.T) {
	details := map[string]any{"username": "ubalogun", "type": "user", "id": "1"}

	tests := []struct {
		name      string
		eventType string
		details   map[string]any
		keys      []string
		want      string
	}{
		{"no keys", "ParamsToStateMachineTester", details, nil, "a0d9bb01f16a80765a8736f00b3da8da"},
		{"one key", "ParamsToStateMachineTester", details, []string{"username"}, "0caa90ad7b7fc101b90a8ce0f9638eb9"},
		{"case folded", "PARAMSTOSTATEMACHINETESTER", map[string]any{"username": "UBALOGUN"}, []string{"username"}, "0caa90ad7b7fc101b90a8ce0f9638eb9"},
		{"sorted values", "Login", map[string]any{"user": "fsociety", "name": "elliot"}, []string{"user", "name"}, "27a50f167242289699e8e0138ead903e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DedupHash(tt.eventType, tt.details, tt.keys)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDedupHash_KeyOrderIndependent(t *testing.T) {
	details := map[string]any{"user": "elliot", "host": "ecorp-01", "count": 3}

	a, err := DedupHash("Login", details, []string{"user", "host", "count"})
	require.NoError(t, err)
	b, err := DedupHash("Login", details, []string{"count", "user", "host"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDedupHash_MissingKey(t *testing.T) {
	_, err := DedupHash("Login", map[string]any{"user": "elliot"}, []string{"user", "host"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeDedupKey))
	assert.Contains(t, err.Error(), `"host"`)
}
