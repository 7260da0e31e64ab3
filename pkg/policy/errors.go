package policy

import "fmt"

// ValidationError reports a policy that violates its structural rules.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError reports a policy id with no registered policy.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("policy %q not found", e.ID)
}
