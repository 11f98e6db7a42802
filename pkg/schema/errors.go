package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeVault          = "VAULT_ERROR"
	ErrCodeBootstrap      = "BOOTSTRAP_ERROR"
	ErrCodeUndefined      = "UNDEFINED_ERROR"
	ErrCodeTemplateSyntax = "TEMPLATE_SYNTAX_ERROR"
	ErrCodeTranslation    = "TRANSLATION_ERROR"
	ErrCodeContract       = "CONTRACT_VIOLATION"
	ErrCodeDedupKey       = "DEDUP_KEY_MISSING"
	ErrCodeEvent          = "EVENT_ERROR"
	ErrCodePlaybookStart  = "PLAYBOOK_START_FAILED"
)

// Human interaction and response delivery codes. Callers branch on these.
const (
	ErrCodeMessageQueryFailed      = "MESSAGE_ID_QUERY_FAILED"
	ErrCodeMessageNotFound         = "MESSAGE_ID_NOT_FOUND"
	ErrCodeMessageUsed             = "MESSAGE_ID_USED"
	ErrCodeAwaitTokenNotFound      = "AWAIT_TOKEN_NOT_FOUND"
	ErrCodeExecutionIDNotFound     = "EXECUTION_ID_NOT_FOUND"
	ErrCodeReceiverNotFound        = "RECEIVER_NOT_FOUND"
	ErrCodeExecutionResultsMissing = "EXECUTION_RESULTS_NOT_FOUND"
	ErrCodeTokenAlreadyUsed        = "TOKEN_ALREADY_USED"
	ErrCodeDeliveryTimedOut        = "RESPONSE_DELIVERY_TIMED_OUT"
	ErrCodeDeliveryFailed          = "RESPONSE_DELIVERY_FAILED"
	ErrCodeMessageUpdateFailed     = "MESSAGE_STATUS_UPDATE_FAILED"
)

// SoarkitError is the structured error type for all soarkit operations.
type SoarkitError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StateName string         `json:"state_name,omitempty"`
	Cause     error          `json:"-"`
}

func (e *SoarkitError) Error() string {
	if e.StateName != "" {
		return fmt.Sprintf("[%s] state %s: %s", e.Code, e.StateName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SoarkitError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SoarkitError.
func NewError(code, message string) *SoarkitError {
	return &SoarkitError{Code: code, Message: message}
}

// NewErrorf creates a new SoarkitError with a formatted message.
func NewErrorf(code, format string, args ...any) *SoarkitError {
	return &SoarkitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithState attaches the name of the state being executed.
func (e *SoarkitError) WithState(stateName string) *SoarkitError {
	e.StateName = stateName
	return e
}

// WithCause attaches an underlying cause.
func (e *SoarkitError) WithCause(err error) *SoarkitError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SoarkitError) WithDetails(details map[string]any) *SoarkitError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first SoarkitError in err's chain, or "".
func CodeOf(err error) string {
	var se *SoarkitError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
