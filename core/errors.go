package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a machine-readable domain error kind.
type Kind string

const (
	KindUnknown           Kind = "UNKNOWN"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotEnrolled       Kind = "NOT_ENROLLED"
	KindRouteClosed       Kind = "ROUTE_CLOSED"
	KindInvalidState      Kind = "INVALID_STATE"
	KindForbidden         Kind = "FORBIDDEN"
	KindNotFound          Kind = "NOT_FOUND"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindConflict          Kind = "CONFLICT"
	KindDependencyFailure Kind = "DEPENDENCY_FAILURE"
)

// Error is the domain error type. Errors compare equal (errors.Is) when their kinds match.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid lifecycle transition"}
	ErrNotEnrolled       = &Error{Kind: KindNotEnrolled, Message: "student is not enrolled on route"}
	ErrRouteClosed       = &Error{Kind: KindRouteClosed, Message: "route is closed"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded, Message: "capacity exceeded"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "concurrent modification"}
	ErrDependencyFailure = &Error{Kind: KindDependencyFailure, Message: "dependency failure"}
)

// NewError returns a domain error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DependencyFailure tags a collaborator failure (persistence, transport) so it is never mistaken for a domain error.
// the original error stays reachable through errors.Unwrap / errors.Cause.
func DependencyFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindDependencyFailure, Message: msg + ": " + err.Error(), Cause: err}
}

// KindOf returns the Kind of the first domain Error in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
