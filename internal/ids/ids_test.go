package ids

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenID_Lengths(t *testing.T) {
	assert.Len(t, GenID(36), 36)
	assert.Len(t, GenID(6), 6)
	assert.Len(t, GenID(0), 36)
	assert.Len(t, GenID(100), 36)
	assert.NotEqual(t, GenID(36), GenID(36))
}

func TestNow_Format(t *testing.T) {
	re := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`)
	assert.Regexp(t, re, Now())
}

func TestFormat_ConvertsToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts := time.Date(2021, 10, 11, 15, 45, 27, 123000, loc)
	assert.Equal(t, "2021-10-11T19:45:27.000123Z", Format(ts))
}

func TestEmptyStringsToNil(t *testing.T) {
	in := map[string]any{
		"Error": "States.Timeout",
		"Cause": "",
		"nested": map[string]any{
			"a": "",
			"b": 1,
			"c": []any{"", "x", map[string]any{"d": ""}},
		},
	}
	out := EmptyStringsToNil(in).(map[string]any)

	assert.Equal(t, "States.Timeout", out["Error"])
	assert.Nil(t, out["Cause"])
	nested := out["nested"].(map[string]any)
	assert.Nil(t, nested["a"])
	assert.Equal(t, 1, nested["b"])
	list := nested["c"].([]any)
	assert.Nil(t, list[0])
	assert.Equal(t, "x", list[1])
	assert.Nil(t, list[2].(map[string]any)["d"])

	// Input is left untouched.
	assert.Equal(t, "", in["Cause"])
}
