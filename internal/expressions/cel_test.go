package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/pkg/schema"
)

func newFilter(t *testing.T) *CELFilter {
	t.Helper()
	f, err := NewCELFilter()
	require.NoError(t, err)
	return f
}

func TestCELFilter_Match(t *testing.T) {
	f := newFilter(t)
	in := FilterInput{
		EventType: "PhishingReport",
		Details:   map[string]any{"severity": "high", "score": 87.0, "tags": []any{"mail", "external"}},
		DataTypes: map[string]any{"sender": "email"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty matches", "", true},
		{"equality", `details.severity == "high"`, true},
		{"numeric", `details.score > 90.0`, false},
		{"event type prefix", `event_type.startsWith("Phish")`, true},
		{"membership", `"external" in details.tags`, true},
		{"has guard", `has(details.owner) && details.owner == "x"`, false},
		{"data types", `data_types.sender == "email"`, true},
		{"meta defaults to empty", `size(event_meta) == 0`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Match(context.Background(), tt.expr, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELFilter_CompileErrors(t *testing.T) {
	f := newFilter(t)

	for _, expr := range []string{`details.severity ==`, `unknown_var == 1`, `"not a bool"`} {
		err := f.Validate(expr)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), expr)
	}
}

func TestCELFilter_RuntimeError(t *testing.T) {
	f := newFilter(t)

	_, err := f.Match(context.Background(), `details.missing == "x"`, FilterInput{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeEvent))
}

func TestCELFilter_ConcurrentMatch(t *testing.T) {
	f := newFilter(t)
	in := FilterInput{EventType: "Scan", Details: map[string]any{"n": 1.0}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.Match(context.Background(), `event_type == "Scan" && details.n == 1.0`, in)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
