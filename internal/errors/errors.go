package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeDependencyUnavailable ErrorType = "dependency_unavailable"
	ErrTypeRejectedGeneration    ErrorType = "rejected_generation"
	ErrTypeValidation            ErrorType = "validation"
	ErrTypeCacheSerialization    ErrorType = "cache_serialization"
	ErrTypeTimeout               ErrorType = "timeout"
	ErrTypeDatabase              ErrorType = "database"
	ErrTypeNotFound              ErrorType = "not_found"
	ErrTypeConfig                ErrorType = "config"
	ErrTypeNetwork               ErrorType = "network"
	ErrTypeFileSystem            ErrorType = "filesystem"
	ErrTypeInternal              ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error. Bare context
// deadline errors are reported as timeouts.
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}

	return ErrTypeInternal
}

// FromContext converts a context error into a typed error. It returns nil when
// err is not a context error.
func FromContext(err error, operation string) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrapf(err, ErrTypeTimeout, "%s exceeded its deadline", operation)
	case errors.Is(err, context.Canceled):
		return Wrapf(err, ErrTypeTimeout, "%s was canceled", operation)
	default:
		return nil
	}
}

// Unavailable wraps a collaborator failure as a dependency error, keeping
// timeouts distinguishable.
func Unavailable(err error, dependency string) *Error {
	if ctxErr := FromContext(err, dependency); ctxErr != nil {
		return ctxErr
	}

	return Wrapf(err, ErrTypeDependencyUnavailable, "%s unavailable", dependency)
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewValidationError creates a validation error for a named parameter
func NewValidationError(field string, format string, args ...interface{}) *Error {
	return Newf(ErrTypeValidation, "invalid %s: %s", field, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
