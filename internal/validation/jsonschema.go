package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/soarkit/pkg/schema"
)

const schemaBase = "https://soarkit.dev/schemas/"

// payloadSchemasJSON holds the built-in schemas, keyed by resource name.
// Embedded as constants to avoid filesystem dependencies.
var payloadSchemasJSON = map[string]string{
	"defs.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://soarkit.dev/schemas/defs.json",
  "$defs": {
    "event_type": { "type": "string", "minLength": 1 },
    "created_at": {
      "type": "string",
      "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}\\.[0-9]{1,6}Z$"
    },
    "dedup_keys": { "type": "array", "items": { "type": "string", "minLength": 1 } },
    "playbook": { "type": "string" }
  }
}`,
	"event.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://soarkit.dev/schemas/event.json",
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "event_type": { "$ref": "defs.json#/$defs/event_type" },
    "created_at": { "$ref": "defs.json#/$defs/created_at" },
    "details": { "type": "object" },
    "data_types": { "type": "object" },
    "event_meta": { "type": "object" },
    "dedup_keys": { "$ref": "defs.json#/$defs/dedup_keys" },
    "playbook": { "$ref": "defs.json#/$defs/playbook" }
  }
}`,
	"batch.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://soarkit.dev/schemas/batch.json",
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "event_type": { "$ref": "defs.json#/$defs/event_type" },
    "created_at": { "$ref": "defs.json#/$defs/created_at" },
    "details": { "type": "array", "items": { "type": "object" } },
    "data_types": { "type": "object" },
    "event_meta": { "type": "object" },
    "dedup_keys": { "$ref": "defs.json#/$defs/dedup_keys" },
    "playbook": { "$ref": "defs.json#/$defs/playbook" },
    "filter": { "type": "string" }
  }
}`,
	"invocation.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://soarkit.dev/schemas/invocation.json",
  "type": "object",
  "properties": {
    "task_token": { "type": "string", "minLength": 1 },
    "sfn_context": { "$ref": "#/$defs/context" },
    "execution_id": { "type": "string" },
    "State_Config": { "$ref": "#/$defs/state_config" },
    "errors": { "type": "object" }
  },
  "dependentRequired": { "task_token": ["sfn_context"] },
  "$defs": {
    "state_config": {
      "type": "object",
      "properties": {
        "Name": { "type": "string", "minLength": 1 },
        "Parameters": { "type": "object" }
      }
    },
    "context": {
      "type": "object",
      "properties": {
        "execution_id": { "type": "string" },
        "State_Config": { "$ref": "#/$defs/state_config" },
        "errors": { "type": "object" }
      }
    }
  }
}`,
}

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	eventSchema      *jsonschema.Schema
	batchSchema      *jsonschema.Schema
	invocationSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the payload schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()
	for name, raw := range payloadSchemasJSON {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}

	v := &JSONSchemaValidator{cache: make(map[string]*jsonschema.Schema)}
	for name, dst := range map[string]**jsonschema.Schema{
		"event.json":      &v.eventSchema,
		"batch.json":      &v.batchSchema,
		"invocation.json": &v.invocationSchema,
	} {
		compiled, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		*dst = compiled
	}
	return v, nil
}

// ValidateEvent validates a single event description.
func (v *JSONSchemaValidator) ValidateEvent(event map[string]any) error {
	return v.validate(v.eventSchema, event, "event")
}

// ValidateBatch validates an event batch.
func (v *JSONSchemaValidator) ValidateBatch(batch map[string]any) error {
	return v.validate(v.batchSchema, batch, "event batch")
}

// ValidateInvocation checks the field types of a state invocation payload.
// Missing State_Config fields are reported by the state handler itself.
func (v *JSONSchemaValidator) ValidateInvocation(payload map[string]any) error {
	return v.validate(v.invocationSchema, payload, "invocation payload")
}

func (v *JSONSchemaValidator) validate(s *jsonschema.Schema, payload map[string]any, what string) error {
	if payload == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is nil", what)
	}
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL and a fresh compiler.
	url := fmt.Sprintf("soarkit://input-schema/%d", len(v.cache))
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toValidationError converts a jsonschema.ValidationError into a
// VALIDATION_ERROR listing every leaf violation.
func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	var result schema.ValidationResult
	collectViolations(verr, &result)
	if result.Valid() {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	return result.ToError()
}

// collectViolations walks a ValidationError tree and records leaf errors
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError, result *schema.ValidationResult) {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		result.AddError(loc, schema.ErrCodeValidation, fmt.Sprintf("%s: %s", loc, verr.Error()))
		return
	}
	for _, cause := range verr.Causes {
		collectViolations(cause, result)
	}
}
