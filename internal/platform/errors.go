package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a platform error for callers and for HTTP mapping.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindPermission         ErrorKind = "permission"
	KindConflict           ErrorKind = "conflict"
	KindNotFound           ErrorKind = "not_found"
	KindExternalDependency ErrorKind = "external_dependency"
)

// Error is the platform error taxonomy. Every service method returns either
// nil, an *Error, or a wrapped internal error (mapped to 500 at the edge).
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func permissionError(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func conflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// externalError wraps a failure from the DDL executor or storage provider,
// naming the operation that was attempted.
func externalError(op string, err error) *Error {
	return &Error{Kind: KindExternalDependency, Message: op + " failed", Err: err}
}

// KindOf returns the error kind, or "" for non-platform errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
