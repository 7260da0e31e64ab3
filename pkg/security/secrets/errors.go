package secrets

import (
	"errors"
	"fmt"
)

// ErrSecretNotFound is returned when no provider can serve a secret name.
var ErrSecretNotFound = errors.New("secret not found")

// LookupError reports which provider failed for which secret name. The
// secret value never appears in the error.
type LookupError struct {
	Name   string
	Source string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("secret %q from %s: %v", e.Name, e.Source, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
