package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrorCategory classifies a provider failure for retry decisions.
type ErrorCategory string

// Error categories the core recognizes.
const (
	// CategoryAuthentication means the provider rejected the credential.
	// Non-retryable; the orchestrator marks the key invalid.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryValidation means the provider rejected the request shape.
	// Non-retryable; another key would fail the same way.
	CategoryValidation ErrorCategory = "validation"

	// CategoryRateLimit means the provider throttled the key. Retryable
	// on another key; may carry a retry-after duration.
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryTimeout means the request exceeded its deadline. Retryable.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryNetwork means the transport failed before a provider
	// verdict. Retryable.
	CategoryNetwork ErrorCategory = "network"

	// CategoryProvider means the provider returned an error verdict.
	// Retryable when the status code is 5xx.
	CategoryProvider ErrorCategory = "provider"

	// CategoryUnknown covers everything else. Non-retryable.
	CategoryUnknown ErrorCategory = "unknown"
)

// SystemError is the normalized form of every error that crosses the
// adapter boundary. The category and status code together determine
// whether the orchestrator retries on another key.
type SystemError struct {
	// Provider is the id of the provider where the error occurred
	Provider string

	// Category classifies the failure
	Category ErrorCategory

	// Message is a human-readable description, already redacted of
	// credentials by the adapter
	Message string

	// StatusCode is the HTTP status from the provider, 0 when not
	// applicable
	StatusCode int

	// RetryAfter is the provider-requested cooldown on rate limits,
	// 0 when the provider gave none
	RetryAfter time.Duration

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q %s error (status %d): %s", e.Provider, e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q %s error: %s", e.Provider, e.Category, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *SystemError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the orchestrator may retry the request on
// another key. RateLimit, Timeout, and Network failures are retryable;
// Provider failures only on 5xx; everything else is surfaced.
func (e *SystemError) Retryable() bool {
	switch e.Category {
	case CategoryRateLimit, CategoryTimeout, CategoryNetwork:
		return true
	case CategoryProvider:
		return e.StatusCode >= 500 && e.StatusCode <= 599
	default:
		return false
	}
}

// Normalize coerces an arbitrary error into a *SystemError. Errors that
// are already *SystemError are returned unchanged. Context deadline
// expiry maps to Timeout and transport failures map to Network; anything
// unrecognized becomes Unknown.
//
// Adapters map their own wire errors in MapError; Normalize is the
// orchestrator's fallback for errors that escape an adapter unmapped.
func Normalize(provider string, err error) *SystemError {
	if err == nil {
		return nil
	}

	var sysErr *SystemError
	if errors.As(err, &sysErr) {
		return sysErr
	}

	category := CategoryUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = CategoryTimeout
	case isNetworkError(err):
		category = CategoryNetwork
	}

	return &SystemError{
		Provider: provider,
		Category: category,
		Message:  err.Error(),
		Cause:    err,
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

// ValidationError reports that a request intent violated the input rules
// before any key was selected or mutation performed.
type ValidationError struct {
	// Field is the name of the invalid field
	Field string

	// Message describes what is invalid about the field
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// DuplicateAdapterError reports a second registration under an id.
type DuplicateAdapterError struct {
	// ProviderID is the id that was already registered
	ProviderID string
}

// Error implements the error interface.
func (e *DuplicateAdapterError) Error() string {
	return fmt.Sprintf("adapter already registered for provider %q", e.ProviderID)
}

// UnknownProviderError reports a lookup for an id with no adapter.
type UnknownProviderError struct {
	// ProviderID is the id that was not found
	ProviderID string
}

// Error implements the error interface.
func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no adapter registered for provider %q", e.ProviderID)
}

// CapabilityError reports an intent requiring a capability the provider
// does not support.
type CapabilityError struct {
	// ProviderID is the provider that lacks the capability
	ProviderID string

	// Capability names what was required (e.g. "streaming", "tools",
	// or a model id)
	Capability string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider %q does not support %s", e.ProviderID, e.Capability)
}
