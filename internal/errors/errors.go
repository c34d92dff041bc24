// Package errors defines the structured application errors used across the docpipe
// pipeline, mirroring the stage-level taxonomy: fetch and extraction failures are
// terminal for a job, duplicates are expected terminal outcomes, and dispatch
// unavailability leaves a job pending.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing state (e.g., an invalid
	// status transition or a double commit attempt).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeDuplicate indicates a record with the same natural key already exists.
	// Duplicates are an expected terminal outcome of a commit, never retryable.
	ErrCodeDuplicate ErrorCode = "duplicate"
	// ErrCodeFetch indicates the job input could not be resolved into bytes.
	ErrCodeFetch ErrorCode = "fetch_failed"
	// ErrCodeExtraction indicates the extraction engine failed.
	ErrCodeExtraction ErrorCode = "extraction_failed"
	// ErrCodePersistence indicates a hard storage failure while committing a record.
	ErrCodePersistence ErrorCode = "persistence"
	// ErrCodeDispatchUnavailable indicates a job could not be handed to the worker
	// pool; the job record stays pending.
	ErrCodeDispatchUnavailable ErrorCode = "dispatch_unavailable"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and
// optional cause. It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	// Code categorizes the error type.
	Code ErrorCode
	// Message is a human-readable error message.
	Message string
	// Cause is the underlying error that caused this error (optional).
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors).
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with a formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Duplicate creates a new Duplicate error. The message carries the sub-case
// ("already processed" vs. "conflicting record") for callers and clients.
func Duplicate(message string) *AppError {
	return &AppError{Code: ErrCodeDuplicate, Message: message}
}

// Duplicatef creates a new Duplicate error with a formatted message.
func Duplicatef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeDuplicate, Message: fmt.Sprintf(format, args...)}
}

// Fetch wraps an error from resolving a job's input into a Fetch error.
func Fetch(err error, message string) *AppError {
	return &AppError{Code: ErrCodeFetch, Message: message, Cause: err}
}

// Extraction wraps an extraction engine failure.
func Extraction(err error, message string) *AppError {
	return &AppError{Code: ErrCodeExtraction, Message: message, Cause: err}
}

// Persistence wraps a hard storage failure during commit.
func Persistence(err error, message string) *AppError {
	return &AppError{Code: ErrCodePersistence, Message: message, Cause: err}
}

// DispatchUnavailable wraps a failure to hand a job to the worker pool.
func DispatchUnavailable(err error, message string) *AppError {
	return &AppError{Code: ErrCodeDispatchUnavailable, Message: message, Cause: err}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with a formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsDuplicate checks if an error is a Duplicate error.
func IsDuplicate(err error) bool {
	return isCode(err, ErrCodeDuplicate)
}

// IsFetch checks if an error is a Fetch error.
func IsFetch(err error) bool {
	return isCode(err, ErrCodeFetch)
}

// IsExtraction checks if an error is an Extraction error.
func IsExtraction(err error) bool {
	return isCode(err, ErrCodeExtraction)
}

// IsPersistence checks if an error is a Persistence error.
func IsPersistence(err error) bool {
	return isCode(err, ErrCodePersistence)
}

// IsDispatchUnavailable checks if an error is a DispatchUnavailable error.
func IsDispatchUnavailable(err error) bool {
	return isCode(err, ErrCodeDispatchUnavailable)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
