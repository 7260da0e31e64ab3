// Package policy evaluates structured routing policies against candidate
// key sets.
//
// A policy is a set of known rules (blocked and preferred providers and
// regions, reliability floors, a per-request cost ceiling) bound to a
// scope and a type. Evaluation is pure: rules drop candidates and record
// constraints; nothing here mutates keys, quota, or budgets.
//
// # Applicable selection
//
// Applicable returns the enabled policies matching a scope and type,
// sorted by descending priority with creation order breaking ties, so two
// engines holding the same policies always evaluate them in the same
// order.
//
// # Fail-closed filtering
//
// A policy that filters out every candidate yields an evaluation with
// Allowed false. Callers treat that as "no eligible keys", not as an
// error in the policy itself.
package policy
