// Package errs defines the typed error surface shared by the coordination
// services. Handlers translate these into MCP result objects; nothing in
// this package ever crosses the transport as a raw exception.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a coordination failure.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidInput Kind = "invalid_input"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindBusClosed    Kind = "bus_closed"
	KindInternal     Kind = "internal"
)

// Error is a coordination failure with a stable kind and an actionable
// message suitable for returning to an MCP client verbatim.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotFound creates a NotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InvalidInput creates an InvalidInput error.
func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, format, args...)
}

// InvalidState creates an InvalidState error.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// Conflict creates a Conflict error.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Timeout creates a Timeout error.
func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

// Cancelled creates a Cancelled error.
func Cancelled(format string, args ...any) *Error {
	return New(KindCancelled, format, args...)
}

// Internal wraps an unexpected persistence or infrastructure failure.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, format, args...)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error,
// otherwise KindInternal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
