// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// ErrBusy is returned when a start is requested while another job is
	// active and concurrent jobs are not permitted.
	ErrBusy = errors.New("file writer busy")

	// ErrAmbiguous is returned when a stop without a job id cannot be
	// resolved to a single active job.
	ErrAmbiguous = errors.New("ambiguous job")

	// ErrTransport is returned when the command channel to the remote
	// writer fails. These are not retried by the controller.
	ErrTransport = errors.New("command channel failure")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "counter", "filename")
	Resource string // For not found/conflict (e.g., "job")
	Op       string // Operation that failed (e.g., "commander.start")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both can be matched.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
	}
}

// Busy reports the jobs that prevent a new start.
func Busy(active []string) error {
	return &Error{
		Sentinel: ErrBusy,
		Message:  fmt.Sprintf("cannot start a new job while %d job(s) are active: %s", len(active), strings.Join(active, ", ")),
		Resource: "job",
	}
}

// Ambiguous reports that a stop needs an explicit job id.
func Ambiguous(active []string) error {
	return &Error{
		Sentinel: ErrAmbiguous,
		Message:  fmt.Sprintf("%d jobs are active, specify which one to stop: %s", len(active), strings.Join(active, ", ")),
		Resource: "job",
	}
}

// Transport wraps a command channel failure.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
