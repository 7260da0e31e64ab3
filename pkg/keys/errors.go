package keys

import (
	"fmt"

	"northstar-hq/polaris/pkg/state"
)

// RegistrationError reports a failed key registration. Stage names the
// step that failed: validation, encryption, or persistence.
type RegistrationError struct {
	// Stage is "validation", "encryption", or "persistence"
	Stage string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("key registration failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError reports a lifecycle transition the state machine
// does not allow.
type InvalidTransitionError struct {
	// KeyID is the key whose transition was rejected
	KeyID string

	// From is the key's current state
	From state.KeyState

	// To is the requested target state
	To state.KeyState
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for key %q: %s -> %s", e.KeyID, e.From, e.To)
}

// NotFoundError reports a lookup for a key id with no record.
type NotFoundError struct {
	// ID is the key id that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %q not found", e.ID)
}

// ValidationError reports registration input that violated the bounds.
type ValidationError struct {
	// Field is the invalid input field
	Field string

	// Message describes the violation
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
