package validation

// Validator checks untyped payloads before they are decoded and acted on.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateBatch(batch map[string]any) error
	ValidateEvent(event map[string]any) error
	ValidateInvocation(payload map[string]any) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}
