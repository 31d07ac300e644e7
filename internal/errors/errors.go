// Package errors provides error code definitions shared by the station
// packages and the local API.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code reported to API clients and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local storage errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrCorrupt   ErrorCode = "STORAGE_CORRUPT"

	// Validation endpoint errors
	ErrValidationNetwork  ErrorCode = "VALIDATION_NETWORK_ERROR"
	ErrValidationRejected ErrorCode = "VALIDATION_REJECTED"

	// Queue and sync errors
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrOffline        ErrorCode = "OFFLINE"

	// Configuration errors
	ErrConfig ErrorCode = "CONFIG_ERROR"
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

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// MessageOf returns the AppError message without the code prefix and
// wrapped cause. Rejections from the check-in server use this to surface
// the server's text verbatim.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
