package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNewAppError(t *testing.T) {
	err := New(ErrorTypeValidation, "test message")

	if err.Type != ErrorTypeValidation {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeValidation)
	}
	if err.Message != "test message" {
		t.Errorf("Message = %v, want %v", err.Message, "test message")
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusBadRequest)
	}
	if err.Details != "" {
		t.Errorf("Details = %q, want empty", err.Details)
	}
	if err.Cause != nil {
		t.Errorf("Cause = %v, want nil", err.Cause)
	}
}

func TestAppError_Error(t *testing.T) {
	err := New(ErrorTypeValidation, "test message")
	if got, want := err.Error(), "validation: test message"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	withDetails := New(ErrorTypeValidation, "test message").WithDetails("extra info")
	if got, want := withDetails.Error(), "validation: test message (extra info)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	original := errors.New("original error")
	wrapped := Wrap(original, ErrorTypeUnavailable, "operation failed")

	if wrapped.Type != ErrorTypeUnavailable {
		t.Errorf("Type = %v, want %v", wrapped.Type, ErrorTypeUnavailable)
	}
	if wrapped.Cause != original {
		t.Errorf("Cause = %v, want %v", wrapped.Cause, original)
	}
	if errors.Unwrap(wrapped) != original {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(wrapped), original)
	}
}

func TestWrapf(t *testing.T) {
	original := errors.New("connection refused")
	wrapped := Wrapf(original, ErrorTypeUnavailable, "failed to connect to %s:%d", "localhost", 5432)

	if got, want := wrapped.Message, "failed to connect to localhost:5432"; got != want {
		t.Errorf("Message = %q, want %q", got, want)
	}
}

func TestWithDetailsf(t *testing.T) {
	err := New(ErrorTypeValidation, "bad input").WithDetailsf("field %s, value %d", "risk", 2)
	if got, want := err.Details, "field risk, value 2"; got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		t    ErrorType
		code int
	}{
		{ErrorTypeValidation, http.StatusBadRequest},
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{ErrorTypeTimeout, http.StatusRequestTimeout},
		{ErrorTypeConflict, http.StatusConflict},
		{ErrorTypeInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := New(c.t, "msg").StatusCode; got != c.code {
			t.Errorf("StatusCode(%v) = %v, want %v", c.t, got, c.code)
		}
	}
}

func TestPredefinedConstructors(t *testing.T) {
	if err := NewValidationError("invalid input"); err.Type != ErrorTypeValidation || err.Message != "invalid input" {
		t.Errorf("NewValidationError: %+v", err)
	}
	if err := NewNotFoundError("evacuation center"); err.Message != "evacuation center not found" {
		t.Errorf("NewNotFoundError: %+v", err)
	}
	cause := errors.New("dial tcp: timeout")
	if err := NewUnavailableError("graph store", cause); err.Type != ErrorTypeUnavailable || err.Cause != cause {
		t.Errorf("NewUnavailableError: %+v", err)
	}
	if err := NewTimeoutError("route computation"); err.Message != "operation timed out: route computation" {
		t.Errorf("NewTimeoutError: %+v", err)
	}
}

func TestIsTypeAndGetType(t *testing.T) {
	validationErr := NewValidationError("test")
	notFoundErr := NewNotFoundError("test")

	if !IsType(validationErr, ErrorTypeValidation) {
		t.Error("IsType should be true for matching type")
	}
	if IsType(validationErr, ErrorTypeNotFound) {
		t.Error("IsType should be false for non-matching type")
	}
	if GetType(notFoundErr) != ErrorTypeNotFound {
		t.Errorf("GetType = %v, want %v", GetType(notFoundErr), ErrorTypeNotFound)
	}

	regular := errors.New("regular error")
	if IsType(regular, ErrorTypeValidation) {
		t.Error("IsType should be false for non-AppError")
	}
	if GetType(regular) != ErrorTypeInternal {
		t.Errorf("GetType(regular) = %v, want %v", GetType(regular), ErrorTypeInternal)
	}
}

func TestGetStatusCode(t *testing.T) {
	if got := GetStatusCode(NewValidationError("x")); got != http.StatusBadRequest {
		t.Errorf("GetStatusCode = %v, want %v", got, http.StatusBadRequest)
	}
	if got := GetStatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("GetStatusCode(plain) = %v, want %v", got, http.StatusInternalServerError)
	}
}

func TestSafeErrorMessage(t *testing.T) {
	if got := SafeErrorMessage(NewValidationError("severity must be in [0,1]")); got != "severity must be in [0,1]" {
		t.Errorf("SafeErrorMessage(validation) = %q", got)
	}
	if got := SafeErrorMessage(NewNotFoundError("center")); got != ErrorMessages.ResourceNotFound {
		t.Errorf("SafeErrorMessage(not found) = %q, want %q", got, ErrorMessages.ResourceNotFound)
	}
	if got := SafeErrorMessage(errors.New("panic: nil pointer")); got != "An unexpected error occurred" {
		t.Errorf("SafeErrorMessage(plain) = %q", got)
	}
}
