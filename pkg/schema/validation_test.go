package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/details/0", ErrCodeDedupKey, "dedup key 'username' missing")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "/details/0", r.Errors[0].Path)
	assert.Equal(t, ErrCodeDedupKey, r.Errors[0].Code)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_WarningsAloneAreValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/playbook", ErrCodeValidation, "no playbook set")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/event_type", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("/details/1", ErrCodeDedupKey, "err2")
	r2.AddWarning("/dedup_keys", ErrCodeValidation, "warn2")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/filter", ErrCodeValidation, "filter does not compile")

	err := r.ToError()
	require.Error(t, err)
	se, ok := err.(*SoarkitError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, se.Code)
	assert.Equal(t, "filter does not compile", se.Message)
	assert.Equal(t, 1, se.Details["error_count"])

	r.AddError("/details", ErrCodeValidation, "details must be a list")
	r.AddWarning("/playbook", ErrCodeValidation, "no playbook set")
	se = r.ToError().(*SoarkitError)
	assert.Contains(t, se.Message, "2 errors")
	assert.Equal(t, 2, se.Details["error_count"])
	assert.Equal(t, 1, se.Details["warning_count"])
}
