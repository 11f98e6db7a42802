package validation

import (
	"fmt"

	"github.com/rendis/soarkit/pkg/schema"
)

// FilterCompiler checks that an event filter expression compiles.
// Satisfied by expressions.CELFilter.
type FilterCompiler interface {
	Validate(expr string) error
}

// CheckBatch runs the schema checks and the checks JSON Schema cannot
// express: every detail carries every dedup key and the filter compiles.
// Issues that do not block creation are reported as warnings.
func (v *JSONSchemaValidator) CheckBatch(batch map[string]any, filters FilterCompiler) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := v.ValidateBatch(batch); err != nil {
		result.Merge(resultOf(err))
		return result
	}

	keys, _ := batch["dedup_keys"].([]any)
	seen := make(map[string]bool, len(keys))
	for i, k := range keys {
		name, _ := k.(string)
		if seen[name] {
			result.AddWarning(fmt.Sprintf("/dedup_keys/%d", i), schema.ErrCodeValidation,
				fmt.Sprintf("dedup key %q is listed more than once", name))
		}
		seen[name] = true
	}

	details, hasDetails := batch["details"].([]any)
	if !hasDetails {
		result.AddWarning("/details", schema.ErrCodeValidation, "no details given, a single empty event will be created")
	}
	for i, d := range details {
		detail, _ := d.(map[string]any)
		for name := range seen {
			if _, ok := detail[name]; !ok {
				result.AddError(fmt.Sprintf("/details/%d", i), schema.ErrCodeDedupKey,
					fmt.Sprintf("dedup key %q is missing from details", name))
			}
		}
	}

	if expr, _ := batch["filter"].(string); expr != "" && filters != nil {
		if err := filters.Validate(expr); err != nil {
			result.AddError("/filter", schema.ErrCodeValidation, err.Error())
		}
	}

	if pb, _ := batch["playbook"].(string); pb == "" {
		result.AddWarning("/playbook", schema.ErrCodeValidation, "no playbook set, events will not start an execution")
	}
	return result
}

// resultOf recovers the issue list carried by a validation error.
func resultOf(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	se, ok := err.(*schema.SoarkitError)
	if ok {
		if issues, ok := se.Details["errors"].([]schema.ValidationIssue); ok {
			result.Errors = issues
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, err.Error())
	return result
}
