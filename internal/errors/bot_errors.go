package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Critical errors that should halt the affected symbol
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryState         ErrorCategory = "STATE"

	// Non-critical errors that can be retried or recovered from
	ErrorCategoryNetwork   ErrorCategory = "NETWORK"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"
	ErrorCategoryOrder     ErrorCategory = "ORDER"
	ErrorCategoryBalance   ErrorCategory = "BALANCE"
	ErrorCategoryData      ErrorCategory = "DATA"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should halt the symbol
func (e *BotError) IsFatal() bool {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration, ErrorCategoryState:
		return true
	}
	return false
}

// New creates a new categorized bot error
func New(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with bot error context
func Wrap(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// WithRetryable overrides the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryRateLimit:
		return true
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration, ErrorCategoryState:
		return false
	default:
		return true // Default to retryable for safety
	}
}

// Categorize attempts to categorize a generic error by inspecting its message.
// Timeouts deliberately land in the same retry class as network errors.
func Categorize(err error, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	if botErr, ok := err.(*BotError); ok {
		return botErr
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "context deadline exceeded") {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") ||
		strings.Contains(errMsg, "eof") {
		return Wrap(err, ErrorCategoryNetwork, component, operation)
	}

	if strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "authentication") ||
		strings.Contains(errMsg, "unauthorized") {
		return Wrap(err, ErrorCategoryCredentials, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return Wrap(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "insufficient") {
		return Wrap(err, ErrorCategoryBalance, component, operation).WithRetryable(false)
	}

	if strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "minimum") ||
		strings.Contains(errMsg, "maximum") {
		return Wrap(err, ErrorCategoryOrder, component, operation).WithRetryable(false)
	}

	// Unknown errors default to the network retry class
	return Wrap(err, ErrorCategoryNetwork, component, operation)
}

// IsInsufficientBalance reports whether the error is a balance shortfall the
// caller may resolve with a savings transfer.
func IsInsufficientBalance(err error) bool {
	if err == nil {
		return false
	}
	if botErr, ok := err.(*BotError); ok {
		return botErr.Category == ErrorCategoryBalance
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient")
}
