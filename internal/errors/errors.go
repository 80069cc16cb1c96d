// Package errors provides structured error types for the Telemetra pipeline.
// All errors include a category, code, message, and retryable flag so callers
// can decide between retry, dead-letter routing, and local containment.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryIntake     ErrorCategory = "INTAKE"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Intake codes
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeBadTopic         = "BAD_TOPIC"

	// Validation codes
	CodeMissingDeviceID  = "MISSING_DEVICE_ID"
	CodeBadTimestamp     = "BAD_TIMESTAMP"
	CodeProcessingFailed = "PROCESSING_FAILED"

	// Store codes
	CodeWriteFailed   = "WRITE_FAILED"
	CodeReadFailed    = "READ_FAILED"
	CodeUnrecoverable = "UNRECOVERABLE"

	// Catalog codes
	CodeRefreshFailed = "REFRESH_FAILED"
	CodeNoEntry       = "NO_ENTRY"

	// Query codes
	CodeParseError   = "PARSE_ERROR"
	CodeUnknownField = "UNKNOWN_FIELD"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable classifies codes that represent transient conditions.
// Intake and validation failures are never retried: a malformed message
// stays malformed, and validation always produces a stored record.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStore && code == CodeReadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeRefreshFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewIntakeError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryIntake, code, message, cause)
}

func NewStoreError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewQueryError(code, message string) *PipelineError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
