package nomadly

import (
	"errors"
	"fmt"
)

// Error codes for plan generation failures
const (
	ErrCodeProtocolViolation = "PROTOCOL_VIOLATION"
	ErrCodeUpstreamTool      = "UPSTREAM_TOOL_FAILURE"
	ErrCodeMalformedOutput   = "MALFORMED_FINAL_OUTPUT"
	ErrCodeResource          = "RESOURCE_FAILURE"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeCancelled         = "EXECUTION_CANCELLED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// GenericFailureMessage is the only text a caller outside the engine sees for a fatal error.
const GenericFailureMessage = "failed to generate plan"

// PlanError is the coded error type returned by the planner.
type PlanError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeProtocolViolation)
	Message string // A human-readable message
	Stage   string // The state where the error occurred (e.g., "forced_tool_round")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *PlanError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PlanError.
func NewError(code, stage, message string, cause error) *PlanError {
	return &PlanError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

func NewProtocolViolationError(stage, message string) *PlanError {
	return NewError(ErrCodeProtocolViolation, stage, message, nil)
}

func NewMalformedOutputError(cause error) *PlanError {
	return NewError(ErrCodeMalformedOutput, string(StateFinalAnswer), "final answer is not valid JSON", cause)
}

func NewResourceError(stage, message string, cause error) *PlanError {
	return NewError(ErrCodeResource, stage, message, cause)
}

func NewValidationError(stage, message string, cause error) *PlanError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewConfigurationError(message string, cause error) *PlanError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *PlanError {
	return NewError(ErrCodeCancelled, stage, "plan generation cancelled", cause)
}

func NewInternalError(stage, message string, cause error) *PlanError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsCode reports whether any PlanError in err's chain carries code.
func IsCode(err error, code string) bool {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// UserMessage maps a fatal error to the text exposed to end users.
// Validation problems are the caller's to fix, so their message is kept.
func UserMessage(err error) string {
	var pe *PlanError
	if errors.As(err, &pe) && pe.Code == ErrCodeValidation {
		return pe.Message
	}
	return GenericFailureMessage
}
