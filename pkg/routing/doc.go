// Package routing selects one key for one request and explains why.
//
// The engine runs a fixed filter pipeline ahead of scoring: lifecycle
// eligibility from the key manager, policy evaluation, then the quota
// filter. Each stage that empties the candidate set stops the pipeline
// with a NoEligibleKeysError naming the stage, so a caller can tell a
// pool with no registered keys apart from one the policies refused.
//
// # Scoring and adjustment
//
// Survivors are scored by the strategy the objective names (or by the
// multi-objective composition when the objective carries weights). The
// normalized scores are then adjusted in order: policy preference
// bonuses, quota capacity multipliers, and budget enforcement. A hard
// budget violation removes the candidate, a soft one halves its score.
// If adjustments push any score past 1.0 the whole map is rescaled so
// the recorded confidence stays in [0, 1].
//
// # The decision
//
// Route returns a RoutingDecision carrying the surviving key ids, the
// final per-key scores, the top alternatives with the reason each lost,
// and a human-readable explanation that prepends policy and quota notes
// to the strategy's own account. The engine performs no provider I/O and
// never mutates key or quota state; persisting the decision is the
// orchestrator's job.
package routing
