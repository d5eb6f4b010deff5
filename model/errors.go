package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// List view error codes.
const (
	ErrLoadFailed     = "LOAD_FAILED"
	ErrSearchRejected = "SEARCH_REJECTED"
	ErrEmptyExport    = "EMPTY_EXPORT"
	ErrNotLoaded      = "NOT_LOADED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// server. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`

	cause error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// WithCause returns a copy of the envelope that wraps cause.
func (e *ErrorEnvelope) WithCause(cause error) *ErrorEnvelope {
	cp := *e
	cp.cause = cause
	return &cp
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

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
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
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewLoadFailedError returns a LOAD_FAILED error carrying the user-facing
// notice for a transport failure.
func NewLoadFailedError(notice string) *ErrorEnvelope {
	if notice == "" {
		notice = "Failed to load records, please reload the page"
	}
	return &ErrorEnvelope{Code: ErrLoadFailed, Message: notice}
}

// NewSearchRejectedError returns a SEARCH_REJECTED error. The message is the
// upstream's own text and is shown to the user verbatim.
func NewSearchRejectedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSearchRejected, Message: msg}
}

// NewEmptyExportError returns an EMPTY_EXPORT error.
func NewEmptyExportError(notice string) *ErrorEnvelope {
	if notice == "" {
		notice = "There is no data to export"
	}
	return &ErrorEnvelope{Code: ErrEmptyExport, Message: notice}
}

// NewNotLoadedError returns a NOT_LOADED error.
func NewNotLoadedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNotLoaded,
		Message: "The list has not been loaded yet",
	}
}
