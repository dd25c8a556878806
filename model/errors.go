package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// Workflow-specific error codes.
const (
	ErrWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	ErrWorkflowNotPending = "WORKFLOW_NOT_PENDING"
	ErrVersionConflict    = "VERSION_CONFLICT"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
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

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewWorkflowNotFoundError returns a WORKFLOW_NOT_FOUND error.
func NewWorkflowNotFoundError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowNotFound,
		Message: fmt.Sprintf("workflow %q not found", workflowID),
	}
}

// NewWorkflowNotPendingError returns a WORKFLOW_NOT_PENDING error. Terminal
// workflows reject further submissions rather than reprocessing them.
func NewWorkflowNotPendingError(workflowID string, status Status) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowNotPending,
		Message: fmt.Sprintf("workflow %q is %s, not pending", workflowID, status),
	}
}

// NewVersionConflictError returns a VERSION_CONFLICT error. The caller must
// reload the workflow and reapply its decision; the stale transition was not
// applied.
func NewVersionConflictError(workflowID string, expectedVersion int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrVersionConflict,
		Message: fmt.Sprintf("workflow %q was modified concurrently (expected version %d)", workflowID, expectedVersion),
	}
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

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "A backing service is temporarily unavailable"
	}
	return &ErrorEnvelope{Code: ErrBackendUnavailable, Message: msg}
}

// NewRateLimitedError returns a RATE_LIMITED error.
func NewRateLimitedError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "Rate limit exceeded. Please try again later."
	}
	return &ErrorEnvelope{Code: ErrRateLimited, Message: msg}
}

// IsCode reports whether err is an *ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
