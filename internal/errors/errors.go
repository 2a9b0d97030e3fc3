// Package errors provides the error codes surfaced by the sync engine to its host.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the host UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrStorage    ErrorCode = "STORAGE_ERROR"

	// Sync errors
	ErrNetwork           ErrorCode = "NETWORK_ERROR"
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncDisabled      ErrorCode = "SYNC_DISABLED"
	ErrSyncSkipped       ErrorCode = "SYNC_SKIPPED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncConflict      ErrorCode = "SYNC_CONFLICT"
	ErrSyncAuthFailed    ErrorCode = "SYNC_AUTH_FAILED"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"

	// Queue errors
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Credential errors
	ErrCryptoFailed      ErrorCode = "CRYPTO_FAILED"
	ErrInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Coder is implemented by errors that carry their own ErrorCode,
// such as the classified errors returned by remote stores.
type Coder interface {
	Code() ErrorCode
}

// CodeOf returns the code of the first AppError or Coder in err's chain,
// or ErrInternal when none is found.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	var coder Coder
	if stderrors.As(err, &coder) {
		return coder.Code()
	}
	return ErrInternal
}

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether the error is transient from the engine's point of view.
// Network failures and timeouts are retried with backoff; auth and validation errors are not.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrSyncTimeout, ErrSyncConflict, ErrStorage:
		return true
	default:
		return false
	}
}
