package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeGraph             = "GRAPH_ERROR"
	ErrCodeNodeFailed        = "NODE_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInterrupted       = "INTERRUPTED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeSandbox           = "SANDBOX_ERROR"
	ErrCodeModel             = "MODEL_ERROR"

	// Programming-error kinds reported by the execution sandbox. These are
	// the deny-list of the retry classifier: retrying the same code cannot
	// succeed.
	ErrCodeTypeError   = "TYPE_ERROR"
	ErrCodeValueError  = "VALUE_ERROR"
	ErrCodeLookupError = "LOOKUP_ERROR"
	ErrCodeSyntaxError = "SYNTAX_ERROR"
	ErrCodeImportError = "IMPORT_ERROR"
)

// DroverError is the structured error type for all drover operations.
type DroverError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DroverError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DroverError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DroverError.
func NewError(code, message string) *DroverError {
	return &DroverError{Code: code, Message: message}
}

// NewErrorf creates a new DroverError with a formatted message.
func NewErrorf(code, format string, args ...any) *DroverError {
	return &DroverError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *DroverError) WithNode(nodeID string) *DroverError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *DroverError) WithCause(err error) *DroverError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DroverError) WithDetails(details map[string]any) *DroverError {
	e.Details = details
	return e
}

// IsRetryable reports whether the code is outside the fatal deny-list.
// The classifier is deny-list shaped: known-fatal kinds never retry,
// everything else does.
func (e *DroverError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation,
		ErrCodeNotFound,
		ErrCodeConflict,
		ErrCodeInvalidTransition,
		ErrCodeGraph,
		ErrCodeCancelled,
		ErrCodeInterrupted,
		ErrCodeRetryExhausted,
		ErrCodeTypeError,
		ErrCodeValueError,
		ErrCodeLookupError,
		ErrCodeSyntaxError,
		ErrCodeImportError:
		return false
	}
	return true
}
