package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Workflow and compliance error codes.
const (
	ErrAlreadyCompleted  = "ALREADY_COMPLETED"
	ErrSignatureRequired = "SIGNATURE_REQUIRED"
	ErrIntegrityError    = "INTEGRITY_ERROR"
	ErrWorkflowNotActive = "WORKFLOW_NOT_ACTIVE"
	ErrDuplicateWorkflow = "DUPLICATE_ACTIVE_WORKFLOW"
	ErrNotDelegable      = "STEP_NOT_DELEGABLE"
)

// ErrorEnvelope is the standard error shape returned by the service.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is (or wraps) an ErrorEnvelope with the
// given code.
func HasCode(err error, code string) bool {
	var env *ErrorEnvelope
	return errors.As(err, &env) && env.Code == code
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error. Denied attempts on workflow
// operations are also written to the audit ledger by the caller.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewAlreadyCompletedError returns an ALREADY_COMPLETED conflict. Raised when
// a completion race is lost: the re-check under the row lock found the step
// no longer open.
func NewAlreadyCompletedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrAlreadyCompleted, Message: msg}
}

// NewSignatureRequiredError returns a SIGNATURE_REQUIRED error.
func NewSignatureRequiredError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSignatureRequired, Message: msg}
}

// NewIntegrityError returns an INTEGRITY_ERROR. Chain verification failures
// are surfaced to operators and never auto-repaired.
func NewIntegrityError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrIntegrityError, Message: msg}
}

// NewWorkflowNotActiveError returns a WORKFLOW_NOT_ACTIVE error.
func NewWorkflowNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotActive, Message: msg}
}

// NewDuplicateWorkflowError returns a DUPLICATE_ACTIVE_WORKFLOW conflict.
func NewDuplicateWorkflowError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDuplicateWorkflow, Message: msg}
}

// NewNotDelegableError returns a STEP_NOT_DELEGABLE error.
func NewNotDelegableError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotDelegable, Message: msg}
}
