package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/pkg/schema"
)

func TestLegacyRenderer(t *testing.T) {
	r := NewLegacyRenderer(testFunctions())

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"safe string", "Hello {context.safe_string}", "Hello Elliot Alderson"},
		{"unsafe string is escaped", "Hello {context.unsafe_string}", "Hello &lt;script&gt;alert('Elliot Alderson')&lt;/script&gt;"},
		{
			"dict repr is escaped",
			"Hello {context.dict}",
			`Hello {'safe_string': 'Elliot Alderson', 'unsafe_string': "&lt;script&gt;alert('Elliot Alderson')&lt;/script&gt;"}`,
		},
		{"maptostr filter", "{context.unicodelist|maptostr}", "['hello', 'world']"},
		{"unknown name renders empty", "Hello {code}", "Hello "},
		{"missing key renders empty", "Hello {context.nope}!", "Hello !"},
		{"plain text", "nothing to see", "nothing to see"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.RenderString(context.Background(), tt.template, mockContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLegacyRenderer_SyntaxError(t *testing.T) {
	r := NewLegacyRenderer(testFunctions())

	// Rendering the repr of a dict again reads it as an expression.
	input := `Hello {'safe_string': 'Elliot Alderson', 'unsafe_string': "<script>alert('Elliot Alderson')</script>"}`
	_, err := r.RenderString(context.Background(), input, mockContext())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTemplateSyntax, schema.CodeOf(err))

	_, err = r.RenderString(context.Background(), "Hello {context.safe_string", mockContext())
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplateSyntax))
}

func TestLegacyRenderer_AccessThroughUndefined(t *testing.T) {
	r := NewLegacyRenderer(testFunctions())
	_, err := r.RenderString(context.Background(), "{context.nope.deeper}", mockContext())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeUndefined, schema.CodeOf(err))
}

func TestLegacyRenderer_RenderReturnsText(t *testing.T) {
	r := NewLegacyRenderer(testFunctions())
	got, err := r.Render(context.Background(), "{context.unicodelist}", mockContext())
	require.NoError(t, err)
	assert.Equal(t, "['hello', 'world']", got)
}
