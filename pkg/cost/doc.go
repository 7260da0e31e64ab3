// Package cost estimates request cost and enforces spending budgets.
//
// # Overview
//
// The controller owns Budget records: fixed accounting periods with a
// decimal limit, a running spend, and an enforcement mode. Budgets exist
// at four scopes (global, per provider, per key, per team); a request is
// checked against every budget whose scope it touches.
//
// # Periods
//
// Each budget accrues spend from its period start until the boundary,
// then rolls over: current spend resets to zero and the period start
// advances. Rollover happens lazily on first access after the boundary
// and is idempotent, so concurrent callers observe at most one reset.
//
// # Enforcement
//
//   - Hard: a request whose projected spend exceeds the limit is refused
//     with BudgetExceededError.
//   - Soft: the violation is recorded and announced, the request passes.
//   - Advisory: the violation is only logged.
//
// Crossing the alert threshold (for example 80% of the limit) emits
// budget_threshold_crossed exactly once per period per budget.
//
// # Estimation
//
// EstimateRequestCost asks the provider adapter first; when the adapter
// cannot price the request, a character-based token heuristic takes over
// (about four characters per token, priced per thousand tokens from the
// model table). Heuristic estimates carry lower confidence and itemize
// prompt and completion cost in the breakdown.
//
// Estimated and actual costs are reconciled per request id: the delta and
// delta percent are kept in a bounded ledger for calibration review.
//
// # Thread Safety
//
// All controller operations are safe for concurrent use; money is decimal
// end to end.
package cost
