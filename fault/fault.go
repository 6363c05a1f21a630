// Package fault defines the unified error taxonomy shared by every HiveHub
// subsystem. Backend packages translate driver errors into one of the kinds
// below; sub-servers wrap handler failures into the MCP error envelope and
// the HTTP transport maps kinds to status codes.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// InvalidInput marks schema or argument validation failures.
	InvalidInput Kind = "invalid_input"

	// NotFound marks a missing entity, chain, task, file or model.
	NotFound Kind = "not_found"

	// Duplicate marks a unique constraint violation.
	Duplicate Kind = "duplicate"

	// BackendUnavailable marks a graph or model connection failure.
	BackendUnavailable Kind = "backend_unavailable"

	// Timeout marks a deadline that was exceeded.
	Timeout Kind = "timeout"

	// GovernanceBlocked marks an action refused by the governance pre-check.
	GovernanceBlocked Kind = "governance_blocked"

	// GovernanceInvalidFormat marks a log record that failed schema validation.
	GovernanceInvalidFormat Kind = "governance_invalid_format"

	// Internal marks invariant violations and unexpected failures.
	Internal Kind = "internal"
)

// Error is a classified error. It carries the taxonomy kind, a message and
// an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is matching on the kind via sentinel errors created
// with New(kind, "").
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Kind == fe.Kind
	}
	return false
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. The cause remains reachable through
// errors.Unwrap.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Invalid creates an InvalidInput error.
func Invalid(format string, args ...interface{}) *Error {
	return New(InvalidInput, format, args...)
}

// Missing creates a NotFound error.
func Missing(format string, args ...interface{}) *Error {
	return New(NotFound, format, args...)
}

// Duplicated creates a Duplicate error.
func Duplicated(format string, args ...interface{}) *Error {
	return New(Duplicate, format, args...)
}

// Unavailable creates a BackendUnavailable error wrapping the cause.
func Unavailable(err error, format string, args ...interface{}) *Error {
	return Wrap(BackendUnavailable, err, format, args...)
}

// Expired creates a Timeout error wrapping the cause.
func Expired(err error, format string, args ...interface{}) *Error {
	return Wrap(Timeout, err, format, args...)
}

// Blocked creates a GovernanceBlocked error.
func Blocked(format string, args ...interface{}) *Error {
	return New(GovernanceBlocked, format, args...)
}

// BadRecord creates a GovernanceInvalidFormat error.
func BadRecord(format string, args ...interface{}) *Error {
	return New(GovernanceInvalidFormat, format, args...)
}

// Unexpected creates an Internal error wrapping the cause.
func Unexpected(err error, format string, args ...interface{}) *Error {
	return Wrap(Internal, err, format, args...)
}

// KindOf returns the kind of an error, unwrapping as needed. Plain errors
// classify as Internal; nil returns the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an error may succeed on retry. Only timeouts
// and backend connection failures qualify; validation and governance
// failures never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Timeout, BackendUnavailable:
		return true
	}
	return false
}

// HTTPStatus maps an error kind to the HTTP status code the transport
// returns for it. Unlisted kinds map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case GovernanceBlocked:
		return http.StatusLocked
	case BackendUnavailable, Timeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
