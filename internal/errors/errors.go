// Package errors provides the unified error taxonomy used across the ACN core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an abstract error category (spec §7). Every component
// translates lower-level failures into one of these before surfacing them.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindPermissionDenied    Kind = "PERMISSION_DENIED"
	KindConflict            Kind = "CONFLICT"
	KindCapacityExceeded    Kind = "CAPACITY_EXCEEDED"
	KindInvalidState        Kind = "INVALID_STATE"
	KindValidationError     Kind = "VALIDATION_ERROR"
	KindUnauthenticated     Kind = "UNAUTHENTICATED"
	KindExternalUnavailable Kind = "EXTERNAL_UNAVAILABLE"
	KindInsufficientBudget  Kind = "INSUFFICIENT_BUDGET"
	KindTimeout             Kind = "TIMEOUT"
	KindInternal            Kind = "INTERNAL"
)

var httpStatus = map[Kind]int{
	KindNotFound:            http.StatusNotFound,
	KindPermissionDenied:    http.StatusForbidden,
	KindConflict:            http.StatusConflict,
	KindCapacityExceeded:    http.StatusBadRequest,
	KindInvalidState:        http.StatusBadRequest,
	KindValidationError:     http.StatusBadRequest,
	KindUnauthenticated:     http.StatusUnauthorized,
	KindExternalUnavailable: http.StatusBadGateway,
	KindInsufficientBudget:  http.StatusBadRequest,
	KindTimeout:             http.StatusGatewayTimeout,
	KindInternal:            http.StatusInternalServerError,
}

// Error is a structured error carrying a Kind, a human-readable message,
// optional identifying details, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value detail, returning the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the mapped HTTP status for this error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Constructors mirroring the shape of each abstract kind in spec §7.

func NotFound(resource, id string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).WithDetail("id", id)
}

func PermissionDenied(message string) *Error {
	return New(KindPermissionDenied, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func CapacityExceeded(message string) *Error {
	return New(KindCapacityExceeded, message)
}

func InvalidState(message string) *Error {
	return New(KindInvalidState, message)
}

func ValidationError(field, reason string) *Error {
	return New(KindValidationError, reason).WithDetail("field", field)
}

func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message)
}

func ExternalUnavailable(service string, err error) *Error {
	return Wrap(KindExternalUnavailable, fmt.Sprintf("%s unavailable", service), err).
		WithDetail("service", service)
}

func InsufficientBudget(required, remaining string) *Error {
	return New(KindInsufficientBudget, "insufficient task budget").
		WithDetail("required", required).WithDetail("remaining", remaining)
}

func Timeout(operation string) *Error {
	return New(KindTimeout, fmt.Sprintf("%s timed out", operation)).
		WithDetail("operation", operation)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts the *Error from an error chain, if present.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatusOf returns the mapped HTTP status for any error, defaulting to 500.
func HTTPStatusOf(err error) int {
	if e := As(err); e != nil {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
