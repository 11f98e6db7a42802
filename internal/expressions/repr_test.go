package expressions

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string verbatim", "it's", "it's"},
		{"nil", nil, "None"},
		{"bools", []any{true, false}, "[True, False]"},
		{"integral float", 3.0, "3"},
		{"fractional float", 2.5, "2.5"},
		{"nan", math.NaN(), "nan"},
		{"nested string quoting", []any{"a", "it's", `say "hi"`}, `['a', "it's", 'say "hi"']`},
		{"both quotes", []any{`it's "x"`}, `['it\'s "x"']`},
		{"control chars", []any{"a\nb\x01"}, `['a\nb\x01']`},
		{"sorted keys", map[string]any{"b": 1.0, "a": nil}, "{'a': None, 'b': 1}"},
		{"typed slice", []string{"x", "y"}, "['x', 'y']"},
		{"typed map", map[string]int{"k": 2}, "{'k': 2}"},
		{"undefined", undefined{name: "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stringify(tt.in))
		})
	}
}
