package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("counter", "counter must not be negative")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "counter must not be negative" {
		t.Errorf("unexpected message %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "counter" {
		t.Errorf("expected field 'counter', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("job", "abc123")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "job abc123 not found" {
		t.Errorf("expected message 'job abc123 not found', got %q", err.Error())
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("job", "abc123", "already registered")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "job abc123: already registered" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestBusy(t *testing.T) {
	t.Parallel()
	err := Busy([]string{"job-1", "job-2"})

	if !errors.Is(err, ErrBusy) {
		t.Error("expected error to match ErrBusy")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("busy must not be classified as a plain conflict")
	}
	if !strings.Contains(err.Error(), "job-1, job-2") {
		t.Errorf("expected active ids in message, got %q", err.Error())
	}
}

func TestAmbiguous(t *testing.T) {
	t.Parallel()
	err := Ambiguous([]string{"a", "b"})

	if !errors.Is(err, ErrAmbiguous) {
		t.Error("expected error to match ErrAmbiguous")
	}
	if !strings.HasPrefix(err.Error(), "2 jobs are active") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestTransport(t *testing.T) {
	t.Parallel()
	err := Transport("commander.start", context.DeadlineExceeded)

	if !errors.Is(err, ErrTransport) {
		t.Error("expected error to match ErrTransport")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be matchable through errors.Is")
	}
	if err.Error() != "commander.start: context deadline exceeded" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("structure template failed")
	err := Internal("structure.render", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "structure.render" {
		t.Errorf("expected op 'structure.render', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("id", "required"), http.StatusBadRequest},
		{"not found", NotFound("job", "123"), http.StatusNotFound},
		{"conflict", Conflict("job", "123", "exists"), http.StatusConflict},
		{"busy", Busy([]string{"123"}), http.StatusConflict},
		{"ambiguous", Ambiguous([]string{"1", "2"}), http.StatusConflict},
		{"transport", Transport("op", fmt.Errorf("refused")), http.StatusBadGateway},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped busy", fmt.Errorf("start: %w", Busy(nil)), http.StatusConflict},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}
