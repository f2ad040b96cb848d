// Package errs defines the closed error taxonomy shared by every tool
// handler and repository. Handlers raise *Error values; the dispatcher maps
// anything else to INTERNAL.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error kind in the closed taxonomy.
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeInvalidAction    Code = "INVALID_ACTION"
	CodeToolNotFound     Code = "TOOL_NOT_FOUND"
	CodeNotFound         Code = "NOT_FOUND"
	CodeDuplicateSlug    Code = "DUPLICATE_SLUG"
	CodeDuplicateKey     Code = "DUPLICATE_KEY"
	CodeCycleDetected    Code = "CYCLE_DETECTED"
	CodeInvalidNamespace Code = "INVALID_NAMESPACE"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL"
)

// Error is a typed domain error carrying a taxonomy code and optional
// structured details for the failure envelope.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a typed error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithDetail attaches a single detail key and returns the same error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// NotFound is a convenience constructor for missing entities.
func NotFound(entity, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", entity, id).WithDetail("id", id)
}

// Validation is a convenience constructor for input failures, keyed by the
// offending field path.
func Validation(field, message string) *Error {
	return Newf(CodeValidation, "%s: %s", field, message).WithDetail("field", field)
}

// CodeOf maps any error back to the taxonomy. Unrecognized errors are
// INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError converts any error to *Error, wrapping unknown errors as INTERNAL.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// Retryable reports whether the error is transient and worth retrying.
func Retryable(err error) bool {
	return CodeOf(err) == CodeStoreUnavailable
}
