// Package errors provides the structured error taxonomy used across every
// MAS-FRO component (spec §7): input/validation, not-found,
// resource-unavailable, timeout, conflict and internal failures, each
// mapped to an HTTP-equivalent status code for the (out of core scope)
// HTTP layer to surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies the failure so callers can branch on it without
// string matching.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeInternal    ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:  http.StatusBadRequest,
	ErrorTypeNotFound:    http.StatusNotFound,
	ErrorTypeUnavailable: http.StatusServiceUnavailable,
	ErrorTypeTimeout:     http.StatusRequestTimeout,
	ErrorTypeConflict:    http.StatusConflict,
	ErrorTypeInternal:    http.StatusInternalServerError,
}

// AppError is the structured error carried by every request-scoped
// operation in the core. It never escapes a component boundary unwrapped.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError of the given type with no wrapped cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodes[t],
	}
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(", cause: %s", e.Cause.Error())
	}
	return s
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails sets Details in place and returns the receiver for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// NewValidationError is a constructor for the common validation case.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewNotFoundError builds a "<resource> not found" not-found error.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, resource+" not found")
}

// NewUnavailableError builds an "unavailable" error wrapping cause.
func NewUnavailableError(resource string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeUnavailable, "%s unavailable", resource)
}

// NewTimeoutError builds a timeout error for the named operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, "operation timed out: "+operation)
}

// NewConflictError builds a conflict error, e.g. a concurrent mutation.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

// NewInternalError wraps an unexpected internal failure. Per spec §7 this
// is logged at ERROR by the caller and is fatal to the request only.
func NewInternalError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeInternal, "internal error during %s", operation)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns the error's type, or ErrorTypeInternal for unstructured
// errors.
func GetType(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the error's HTTP-equivalent status code.
func GetStatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the generic, client-safe text for error types whose
// internal details must not reach the caller.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
	InternalError           string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	ConcurrentModification: "The resource was modified concurrently",
	RateLimitExceeded:      "Rate limit exceeded",
	InternalError:          "An internal error occurred",
}

// SafeErrorMessage returns a client-safe string: validation messages pass
// through verbatim (they are already written for end users), everything
// else collapses to a generic message so internals never leak.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return ErrorMessages.InternalError
	}
}
