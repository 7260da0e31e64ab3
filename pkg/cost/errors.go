package cost

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports a budget definition that violates the bounds.
type ValidationError struct {
	// Field is the invalid input field
	Field string

	// Message describes the violation
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid budget %s: %s", e.Field, e.Message)
}

// NotFoundError reports a lookup for a budget id with no record.
type NotFoundError struct {
	// ID is the budget id that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("budget %q not found", e.ID)
}

// BudgetExceededError refuses a request that would push a hard-enforced
// budget past its limit.
type BudgetExceededError struct {
	// BudgetIDs lists every hard budget the request would exceed
	BudgetIDs []string

	// Cost is the estimated cost of the refused request
	Cost decimal.Decimal

	// Limit is the limit of the tightest violated budget
	Limit decimal.Decimal

	// Remaining is that budget's headroom before this request
	Remaining decimal.Decimal
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded (%s): cost %s, limit %s, remaining %s",
		strings.Join(e.BudgetIDs, ", "), e.Cost, e.Limit, e.Remaining)
}
