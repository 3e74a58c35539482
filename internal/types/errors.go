package types

import (
	"errors"
	"fmt"
)

// ErrNotificationTimeout indicates a store operation inside EmitChange
// exceeded its bound. Watchers log it and return nil: the next notification
// or a manual reload converges state.
var ErrNotificationTimeout = errors.New("notification store operation timed out")

// ValidationError reports invalid caller input: table or channel names,
// malformed rules, empty filter arguments. Never retried.
type ValidationError struct {
	Field   string // name of the offending input
	Message string // human-readable reason
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps any failure of a statement or transaction. The
// enclosing transaction has been rolled back when this is returned (unless the
// adapter joined a caller-owned transaction).
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("policy %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// CallbackFailure wraps an error returned, or a panic raised, by a registered
// watcher callback. It is logged and discarded by the dispatcher.
type CallbackFailure struct {
	Err error
}

// Error implements the error interface.
func (e *CallbackFailure) Error() string {
	return fmt.Sprintf("watcher callback failed: %v", e.Err)
}

// Unwrap exposes the callback's error.
func (e *CallbackFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is, or wraps, a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
