package schema

import "time"

// Reserved keys of the root context handed to parameter templates.
const (
	KeyArtifacts        = "artifacts"
	KeyResults          = "results"
	KeyErrors           = "errors"
	KeyExecutionID      = "execution_id"
	KeyTaskToken        = "task_token"
	KeyStateName        = "state_name"
	KeyLastSavedResults = "_Last_Saved_Results"
)

// Invocation payload keys.
const (
	KeyStateConfig = "State_Config"
	KeySfnContext  = "sfn_context"
	KeyTesting     = "_testing"
)

// DirectInvokeName is the state name synthesized for invocations that arrive
// outside of a playbook.
const DirectInvokeName = "direct_invoke"

// StateConfig is the per-step configuration block of an invocation payload.
type StateConfig struct {
	Name       string         `json:"Name"`
	Parameters map[string]any `json:"Parameters"`
}

// ExecutionRecord is one playbook execution's context document.
// Results holds {artifacts, results, errors}; results is keyed by state name.
type ExecutionRecord struct {
	ExecutionID     string         `json:"execution_id"`
	Datetime        string         `json:"datetime"`
	InvestigationID string         `json:"investigation_id"`
	Results         map[string]any `json:"results"`
}

// NewExecutionDocument builds the initial results document of an execution.
func NewExecutionDocument(executionID string, event map[string]any) map[string]any {
	return map[string]any{
		KeyArtifacts: map[string]any{
			"event":        event,
			KeyExecutionID: executionID,
		},
		KeyResults: map[string]any{},
		KeyErrors:  map[string]any{},
	}
}

// ResponseMessage tracks a pending human interaction and its continuation token.
type ResponseMessage struct {
	MessageID       string         `json:"message_id"`
	Datetime        string         `json:"datetime"`
	InvestigationID string         `json:"investigation_id"`
	Message         string         `json:"message"`
	Fulfilled       bool           `json:"fulfilled"`
	ExecutionID     string         `json:"execution_id"`
	Receiver        string         `json:"receiver"`
	AwaitToken      string         `json:"await_token"`
	ResponsePayload map[string]any `json:"response_payload,omitempty"`
	FulfilledAt     *time.Time     `json:"fulfilled_at,omitempty"`
}
