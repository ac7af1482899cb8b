// Package errors provides the structured error type used across Libris,
// plus retry helpers for transient failures.
package errors

import (
	"fmt"
)

// LibrisError is the structured error type for Libris. It carries a
// stable code, a category and severity derived from the code, and the
// underlying cause for error-chain support.
type LibrisError struct {
	// Code is the unique error code (e.g. "ERR_101_LOCK_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (lock, extract, store, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *LibrisError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LibrisError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LibrisError.
func (e *LibrisError) Is(target error) bool {
	if t, ok := target.(*LibrisError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LibrisError) WithDetail(key, value string) *LibrisError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *LibrisError) WithSuggestion(suggestion string) *LibrisError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LibrisError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LibrisError {
	return &LibrisError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new LibrisError with a formatted message.
func Newf(code string, format string, args ...any) *LibrisError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a LibrisError from an existing error.
// The error's message becomes the LibrisError message.
func Wrap(code string, err error) *LibrisError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel errors for errors.Is comparisons. Callers compare against
// these rather than constructing their own.
var (
	ErrLockTimeout       = New(ErrCodeLockTimeout, "database lock not acquired within timeout", nil)
	ErrLockIO            = New(ErrCodeLockIO, "lock file I/O failure", nil)
	ErrLockLost          = New(ErrCodeLockLost, "lock no longer held by this session", nil)
	ErrUnsupportedFormat = New(ErrCodeUnsupportedFormat, "unsupported book format", nil)
	ErrJobAlreadyRunning = New(ErrCodeJobRunning, "a background indexing job is already running", nil)
)

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*LibrisError); ok {
		return le.Retryable
	}
	return false
}

// GetCode extracts the error code from a LibrisError.
// Returns empty string if not a LibrisError.
func GetCode(err error) string {
	if le, ok := err.(*LibrisError); ok {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LibrisError.
func GetCategory(err error) Category {
	if le, ok := err.(*LibrisError); ok {
		return le.Category
	}
	return ""
}
