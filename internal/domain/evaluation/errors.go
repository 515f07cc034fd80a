package evaluation

import (
	"errors"
	"fmt"
)

// ErrorCode identifies well-known domain error categories.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeEvaluation ErrorCode = "EVALUATION_ERROR"
	ErrCodeFetch      ErrorCode = "FETCH_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"
	ErrCodeCancelled  ErrorCode = "CANCELLED"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values by code.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code
}

// HasCode reports whether err is a DomainError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}

// NewValidationError flags malformed input.
func NewValidationError(message string, context map[string]any) *DomainError {
	return &DomainError{Code: ErrCodeValidation, Message: message, Context: context}
}

// NewNotFoundError flags a missing form or entity.
func NewNotFoundError(message string, context map[string]any) *DomainError {
	return &DomainError{Code: ErrCodeNotFound, Message: message, Context: context}
}

// NewEvaluationError wraps a failure of the external evaluation function.
func NewEvaluationError(message string, cause error, context map[string]any) *DomainError {
	return &DomainError{Code: ErrCodeEvaluation, Message: message, Cause: cause, Context: context}
}

// NewFetchError wraps a dynamic-value fetch failure.
func NewFetchError(message string, cause error, context map[string]any) *DomainError {
	return &DomainError{Code: ErrCodeFetch, Message: message, Cause: cause, Context: context}
}

// NewTimeoutError flags an expired wait.
func NewTimeoutError(message string, context map[string]any) *DomainError {
	return &DomainError{Code: ErrCodeTimeout, Message: message, Context: context}
}

// NewCancelledError wraps a context cancellation.
func NewCancelledError(message string, cause error) *DomainError {
	return &DomainError{Code: ErrCodeCancelled, Message: message, Cause: cause}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *DomainError {
	return &DomainError{Code: ErrCodeInternal, Message: message, Cause: cause}
}
