package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeStore represents key-value store errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// ErrorType returns the error's category. Promoted through every wrapper
// type, which is what lets IsErrorType see through them.
func (e *BaseError) ErrorType() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Store Errors

// ErrStoreUnavailable is returned when the key-value backend cannot be reached
type ErrStoreUnavailable struct {
	*BaseError
	Operation string
}

func NewStoreUnavailable(operation string, err error) *ErrStoreUnavailable {
	return &ErrStoreUnavailable{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("store unavailable during %s", operation), err),
		Operation: operation,
	}
}

// ErrStoreCorruptValue is returned when a stored value cannot be decoded
type ErrStoreCorruptValue struct {
	*BaseError
	Key string
}

func NewStoreCorruptValue(key string, err error) *ErrStoreCorruptValue {
	return &ErrStoreCorruptValue{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("corrupt value at key: %s", key), err),
		Key:       key,
	}
}

// Config Errors

// ErrUnknownRateRule is returned when a rate-limit rule name is not registered.
// Unlike runtime failures this indicates a deployment bug and is surfaced
// synchronously to the caller.
type ErrUnknownRateRule struct {
	*BaseError
	Rule string
}

func NewUnknownRateRule(rule string) *ErrUnknownRateRule {
	return &ErrUnknownRateRule{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("unknown rate limit rule: %s", rule), nil),
		Rule:      rule,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	var typed interface{ ErrorType() ErrorType }
	if stderrors.As(err, &typed) {
		return typed.ErrorType() == errType
	}
	return false
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	// Config errors indicate a deployment bug, never retryable
	if IsErrorType(err, ErrorTypeConfig) {
		return false
	}
	// Store outages are transient
	if IsErrorType(err, ErrorTypeStore) {
		return true
	}
	return false
}
