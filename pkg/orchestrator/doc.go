// Package orchestrator is the public entry point of the routing core. It
// turns one request intent into one provider response: it asks the routing
// engine for a decision, persists that decision, executes the call through
// the selected provider adapter, and fails over to alternative keys on
// retryable errors. On success it updates key usage, quota capacity, and
// cost accounting in that order.
//
// The orchestrator also owns the background recovery task that returns
// throttled keys to service and reconciles store bookkeeping, and the
// per-provider health trackers surfaced by the management server.
package orchestrator
