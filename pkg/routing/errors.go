package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrNoEligibleKeys is returned when no key survives eligibility,
	// policy, quota, and budget filtering.
	ErrNoEligibleKeys = errors.New("no eligible keys")

	// ErrUnknownStrategy is returned when the objective names a kind no
	// registered strategy implements.
	ErrUnknownStrategy = errors.New("unknown routing strategy")
)

// Filter stage tags recorded on NoEligibleKeysError.
const (
	StageEligibility = "eligibility"
	StagePolicy      = "policy"
	StageQuota       = "quota"
	StageBudget      = "budget"
)

// NoEligibleKeysError reports that no key could be selected for the
// provider, and which filter stage removed the last candidate.
type NoEligibleKeysError struct {
	// ProviderID is the provider the intent targeted.
	ProviderID string

	// Stage names the filter that emptied the candidate set: one of
	// eligibility, policy, quota, budget.
	Stage string

	// Considered is how many candidates entered the emptying stage.
	Considered int

	// Reason explains the removal when the stage can say more than its
	// name (a policy refusal, an exhausted quota).
	Reason string
}

// Error implements the error interface.
func (e *NoEligibleKeysError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no eligible keys for provider %q", e.ProviderID)
	if e.Stage != "" {
		fmt.Fprintf(&b, " after %s filtering", e.Stage)
	}
	if e.Considered > 0 {
		fmt.Fprintf(&b, " (%d considered)", e.Considered)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Is implements error matching for errors.Is().
func (e *NoEligibleKeysError) Is(target error) bool {
	return target == ErrNoEligibleKeys
}

// UnknownStrategyError is returned when a structured objective names a
// primary kind with no registered strategy and supplies no weights the
// multi-objective strategy could compose.
type UnknownStrategyError struct {
	// Kind is the objective kind that has no strategy.
	Kind string

	// Available lists the registered strategy kinds.
	Available []string
}

// Error implements the error interface.
func (e *UnknownStrategyError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no strategy registered for objective %q", e.Kind)
	}
	return fmt.Sprintf("no strategy registered for objective %q (available: %s)",
		e.Kind, strings.Join(e.Available, ", "))
}

// Is implements error matching for errors.Is().
func (e *UnknownStrategyError) Is(target error) bool {
	return target == ErrUnknownStrategy
}
