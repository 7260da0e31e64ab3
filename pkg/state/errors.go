package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for store lookups.
var (
	// ErrNotFound is returned when an entity id has no stored record.
	ErrNotFound = errors.New("entity not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("state store closed")
)

// StoreError wraps a backing-store failure with the operation and backend
// that produced it. Callers match with errors.As or unwrap the cause.
type StoreError struct {
	// Op is the store operation that failed (save_key, query_state, ...).
	Op string

	// Backend names the backing (memory, redis, sqlite).
	Backend string

	// Err is the underlying cause.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError builds a StoreError.
func NewStoreError(backend, op string, err error) *StoreError {
	return &StoreError{Op: op, Backend: backend, Err: err}
}
