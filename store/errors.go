package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = fmt.Errorf("duplicate entry: %w", ErrConflict)

	// ErrUninitialized is returned when a store handle is requested before the
	// connection registry has been started.
	ErrUninitialized = errors.New("store not initialized")
)

// OpError wraps a driver or network failure with the backend and operation
// that produced it.
type OpError struct {
	Backend Backend
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(b Backend, op string, err error) error {
	return &OpError{Backend: b, Op: op, Err: err}
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
