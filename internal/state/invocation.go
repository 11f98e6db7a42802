package state

import (
	"maps"

	"github.com/rendis/soarkit/pkg/schema"
)

// Invocation is a parsed state invocation payload.
type Invocation struct {
	// Event is the payload with any task token wrapper removed. For direct
	// invocations it is the synthesized testing payload.
	Event       map[string]any
	TaskToken   string
	ExecutionID string
	Testing     bool
	// DirectInvoke is set when the payload arrived outside of a playbook and
	// was coerced into testing mode.
	DirectInvoke bool
	StateName    string
	Parameters   map[string]any
}

// ParseInvocation parses a raw invocation payload. It never mutates payload.
func ParseInvocation(payload map[string]any) (*Invocation, error) {
	inv := &Invocation{Event: payload}

	if token, ok := payload[schema.KeyTaskToken]; ok {
		inv.TaskToken, _ = token.(string)
		sfn, ok := payload[schema.KeySfnContext].(map[string]any)
		if !ok {
			return nil, bootstrapError("`sfn_context` must accompany `task_token`")
		}
		inv.Event = sfn
	}
	if inv.Event == nil {
		inv.Event = map[string]any{}
	}

	inv.Testing = truthy(inv.Event[schema.KeyTesting])
	inv.ExecutionID, _ = inv.Event[schema.KeyExecutionID].(string)

	rawConfig, ok := inv.Event[schema.KeyStateConfig]
	if !ok {
		_, hasExecution := inv.Event[schema.KeyExecutionID]
		_, hasArtifacts := inv.Event[schema.KeyArtifacts]
		if hasExecution || hasArtifacts {
			return nil, bootstrapError("No State_Config was passed to the integration")
		}
		config := map[string]any{"Name": schema.DirectInvokeName, "Parameters": maps.Clone(inv.Event)}
		inv.Testing = true
		inv.DirectInvoke = true
		inv.Event = map[string]any{
			schema.KeyTesting:     true,
			schema.KeyStateConfig: config,
		}
		rawConfig = config
	}

	config, ok := rawConfig.(map[string]any)
	if !ok {
		return nil, bootstrapError("State_Config must be a mapping")
	}
	name, ok := config["Name"]
	if !ok {
		return nil, bootstrapError("`Name` not set in State_Config")
	}
	if inv.StateName, ok = name.(string); !ok || inv.StateName == "" {
		return nil, bootstrapError("`Name` in State_Config must be a non-empty string")
	}
	params, ok := config["Parameters"]
	if !ok {
		return nil, bootstrapError("`Parameters` not set in State_Config")
	}
	switch p := params.(type) {
	case map[string]any:
		inv.Parameters = p
	case nil:
		inv.Parameters = map[string]any{}
	default:
		return nil, bootstrapError("`Parameters` in State_Config must be a mapping")
	}
	return inv, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	}
	return true
}

func bootstrapError(msg string) *schema.SoarkitError {
	return schema.NewError(schema.ErrCodeBootstrap, msg)
}
