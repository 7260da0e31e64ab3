// Package quota tracks per-key capacity and turns it into routing signal.
//
// Every key has at most one QuotaState, created lazily the first time the
// key is referenced and reset in place when its window boundary passes.
// The capacity state is derived from the remaining/total ratio:
//
//	>= 80%  abundant
//	>= 50%  constrained
//	>= 20%  critical
//	 < 20%  exhausted
//
// An exhausted state flips to recovering once the current instant falls
// inside the configured pre-reset window, letting keys warm back up
// before the boundary instead of stampeding at reset.
//
// # Routing signal
//
// FilterByQuotaState drops exhausted keys from a candidate set and
// ApplyQuotaMultipliers scales strategy scores by capacity state
// (abundant 1.20, constrained 0.85, critical 0.70, recovering 0.50), so
// scarcity bends selection before it becomes an outage.
//
// # Prediction
//
// The engine keeps a short in-memory window of consumption samples per
// key. PredictExhaustion divides remaining capacity by the observed rate
// to produce a predicted exhaustion instant with a confidence bucket;
// when the prediction lands before the reset boundary with at least
// medium confidence, a constrained state is raised to critical early.
//
// # Writes
//
// UpdateCapacity is the only consumption writer and is atomic per key:
// each mutation runs under that key's stripe lock as a read-modify-write
// against the store. The engine never mutates key lifecycle state itself;
// crossing into exhausted notifies the registered KeyLifecycleListener
// and the orchestrator drives the key transition.
package quota
