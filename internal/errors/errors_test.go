// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type codedErr struct{ code ErrorCode }

func (e codedErr) Error() string   { return string(e.code) }
func (e codedErr) Code() ErrorCode { return e.code }

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: New(ErrInternal, "something failed"),
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: Wrap(ErrNetwork, "fetch snapshot", errors.New("connection refused")),
			want:     "[NETWORK_ERROR] fetch snapshot: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies errors.Is reaches the wrapped error.
func TestAppError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(ErrStorage, "save", inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false, want true")
	}
}

// TestIs verifies code matching through wrapped chains.
func TestIs(t *testing.T) {
	base := New(ErrSyncConflict, "stale version")
	wrapped := fmt.Errorf("upload: %w", base)

	if !Is(wrapped, ErrSyncConflict) {
		t.Error("Is(wrapped, ErrSyncConflict) = false, want true")
	}
	if Is(wrapped, ErrSyncAuthFailed) {
		t.Error("Is(wrapped, ErrSyncAuthFailed) = true, want false")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is(nil, ...) = true, want false")
	}
	if !Is(fmt.Errorf("x: %w", codedErr{ErrSyncAuthFailed}), ErrSyncAuthFailed) {
		t.Error("Is(coder, ErrSyncAuthFailed) = false, want true")
	}
}

// TestCodeOf verifies fallbacks for plain errors.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

// TestIsRetryable covers the retry policy table.
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrNetwork, true},
		{ErrSyncTimeout, true},
		{ErrSyncConflict, true},
		{ErrStorage, true},
		{ErrSyncAuthFailed, false},
		{ErrValidation, false},
		{ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(strings.ToLower(string(tt.code)), func(t *testing.T) {
			if got := IsRetryable(New(tt.code, "x")); got != tt.want {
				t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
