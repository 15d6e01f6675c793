package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorKind categorises failures raised by non-Firestore backends.
type StoreErrorKind string

const (
	StoreErrorNotFound    StoreErrorKind = "not_found"
	StoreErrorConflict    StoreErrorKind = "conflict"
	StoreErrorUnavailable StoreErrorKind = "unavailable"
)

// StoreError implements RepositoryError for the memory and SQL backends.
type StoreError struct {
	Op   string
	Kind StoreErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == StoreErrorUnavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorNotFound, Err: fmt.Errorf(format, args...)}
}

// NewConflictError reports a uniqueness or precondition violation.
func NewConflictError(op, format string, args ...any) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorConflict, Err: fmt.Errorf(format, args...)}
}

// NewUnavailableError wraps a transient backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: StoreErrorUnavailable, Err: err}
}

// IsNotFound reports whether err carries repository not-found semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries repository conflict semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
