// Package state defines the entity model shared by every routing component:
// keys, quota states, routing decisions, state transitions, cost estimates,
// and routing objectives, plus the StateStore contract their persistence
// goes through.
//
// # Entities
//
// The four persisted entity families are:
//
//   - Key: one credential for one provider, with a lifecycle state machine
//   - QuotaState: per-key remaining-capacity tracking (at most one per key)
//   - RoutingDecision: append-only audit of every selection the router makes
//   - StateTransition: append-only audit of every lifecycle state change
//
// Entity conventions: every entity carries a stable string id, all timestamps
// are UTC instants, and all monetary amounts are decimal (shopspring/decimal),
// never binary floats.
//
// # Store contract
//
// StateStore is the single persistence contract. Backings live in the storage
// subpackage: an in-memory store with FIFO caps on the audit families, a Redis
// store with per-entry TTLs, and a SQLite store with declared indexes. All
// implementations must satisfy the same save/get/query semantics; the suite in
// storage/conformance_test.go exercises them uniformly.
package state
