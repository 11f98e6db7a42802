package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/pkg/schema"
)

func TestNormalizeFilters(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"x | fromjson", "x | fromjson()"},
		{"x|fromjson", "x|fromjson()"},
		{"x | vault | fromjson", "x | vault() | fromjson()"},
		{"x | fromtimestamp('UTC')", "x | fromtimestamp('UTC')"},
		{"x | fromtimestamp ('UTC')", "x | fromtimestamp ('UTC')"},
		{"a || b", "a || b"},
		{"'a | b' | fromjson", "'a | b' | fromjson()"},
		{`"it\"s | x" | maptostr`, `"it\"s | x" | maptostr()`},
		{"x | 1", "x | 1"},
		{"no pipes", "no pipes"},
		{"x == None", "x == nil"},
		{"True and not False", "true and not false"},
		{"context.None", "context.None"},
		{"'None' | maptostr", "'None' | maptostr()"},
		{"Nonesuch", "Nonesuch"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeFilters(tt.in))
		})
	}
}

func TestRewriteExpression_ReportsFilters(t *testing.T) {
	out, filters := rewriteExpression("x | vault | fromtimestamp('UTC') || y")
	assert.Equal(t, "x | vault() | fromtimestamp('UTC') || y", out)
	assert.Equal(t, []string{"vault", "fromtimestamp"}, filters)

	_, filters = rewriteExpression("'a | b'")
	assert.Empty(t, filters)
}

func TestSplit(t *testing.T) {
	segs, err := nativeDelims.split("a {{ x }} b {{ '}}' }}")
	require.NoError(t, err)
	assert.Equal(t, []segment{
		{text: "a "},
		{text: "x", expr: true},
		{text: " b "},
		{text: "'}}'", expr: true},
	}, segs)

	segs, err = nativeDelims.split("[A-Z]{16}")
	require.NoError(t, err)
	assert.Equal(t, []segment{{text: "[A-Z]{16}"}}, segs)

	_, err = nativeDelims.split("{{ open")
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplateSyntax))

	_, err = legacyDelims.split("{}")
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplateSyntax))
}

func TestSoleExpression(t *testing.T) {
	segs, _ := nativeDelims.split("  {{ x }}\n")
	e, ok := soleExpression(segs)
	assert.True(t, ok)
	assert.Equal(t, "x", e)

	segs, _ = nativeDelims.split("{{ x }}{{ y }}")
	_, ok = soleExpression(segs)
	assert.False(t, ok)

	segs, _ = nativeDelims.split("hi {{ x }}")
	_, ok = soleExpression(segs)
	assert.False(t, ok)
}
