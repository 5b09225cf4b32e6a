package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a request payload missing a required field.
	ErrValidation = errors.New("invalid task payload")
	// ErrNotFound indicates an id that does not resolve to a stored task.
	ErrNotFound = errors.New("task not found")
)

// StoreError wraps a failure of the underlying table storage.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// PartialBatchError reports a bulk update that applied only some of its
// operations. Callers treat this as success for the overall request; the
// failure is logged, not surfaced.
type PartialBatchError struct {
	Applied int
	Failed  int
	Errs    []error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("bulk update partially applied: %d ok, %d failed", e.Applied, e.Failed)
}
