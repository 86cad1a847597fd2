package store

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on a unique-constraint conflict.
	ErrDuplicate = errors.New("store: duplicate entry")
	// ErrRowLocked is returned when a row lock cannot be acquired; the
	// caller retries.
	ErrRowLocked = errors.New("store: row locked")
	// ErrImmutableChannelID guards I4: an assigned channel_id never changes.
	ErrImmutableChannelID = errors.New("store: channel_id is immutable once assigned")
)

// InvariantError reports a write that would violate one of the data-model
// invariants. It is treated as a bug: logged with context, surfaced as a
// server-side failure, never auto-corrected.
type InvariantError struct {
	Name   string // invariant identifier, e.g. "I1"
	Detail string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("InvariantViolation(%s): %s", e.Name, e.Detail)
}

// NewInvariantError builds an InvariantError.
func NewInvariantError(name, detail string) *InvariantError {
	return &InvariantError{Name: name, Detail: detail}
}

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// QueryError wraps a database failure with the operation that hit it.
type QueryError struct {
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error { return e.Cause }

// NewQueryError builds a QueryError.
func NewQueryError(op, message string, cause error) *QueryError {
	return &QueryError{Op: op, Message: message, Cause: cause}
}
