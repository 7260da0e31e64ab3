package orchestrator

import (
	"context"
	"testing"
	"time"

	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/state"
)

type fakeReconciler struct {
	calls   int
	removed int
	err     error
}

func (f *fakeReconciler) ReconcileOrphans(ctx context.Context) (int, error) {
	f.calls++
	return f.removed, f.err
}

type fakePruner struct {
	calls  int
	before time.Time
	pruned int64
	err    error
}

func (f *fakePruner) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.pruned, f.err
}

func TestRecoveryRunOnceRecoversCooledKeys(t *testing.T) {
	f := newFixture(t)
	f.seedKey(t, "k1", "openai", nil)

	cooldown := 60 * time.Second
	if _, err := f.keys.UpdateState(context.Background(), "k1", keys.TransitionRequest{
		Target:   state.KeyStateThrottled,
		Trigger:  keys.TriggerRateLimit,
		Cooldown: &cooldown,
	}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	r := NewRecovery(f.keys, RecoveryConfig{}, f.clock, nil, nil)

	// Cooldown not yet elapsed: the pass is a no-op.
	r.RunOnce(context.Background())
	k1, _ := f.keys.Get(context.Background(), "k1")
	if k1.State != state.KeyStateThrottled {
		t.Fatalf("state = %s, want throttled before cooldown elapses", k1.State)
	}

	f.clock.Advance(cooldown + time.Second)
	r.RunOnce(context.Background())
	k1, _ = f.keys.Get(context.Background(), "k1")
	if k1.State != state.KeyStateAvailable {
		t.Errorf("state = %s, want available after cooldown", k1.State)
	}
	if k1.CooldownUntil != nil {
		t.Errorf("cooldown_until = %v, want cleared", k1.CooldownUntil)
	}
}

func TestRecoveryRunOnceReconcilesAndPrunes(t *testing.T) {
	f := newFixture(t)
	rec := &fakeReconciler{removed: 2}
	pr := &fakePruner{pruned: 5}

	r := NewRecovery(f.keys, RecoveryConfig{
		AuditRetention: 7 * 24 * time.Hour,
		Reconciler:     rec,
		Pruner:         pr,
	}, f.clock, nil, nil)
	r.RunOnce(context.Background())

	if rec.calls != 1 {
		t.Errorf("reconciler calls = %d, want 1", rec.calls)
	}
	if pr.calls != 1 {
		t.Errorf("pruner calls = %d, want 1", pr.calls)
	}
	wantBefore := f.clock.Now().Add(-7 * 24 * time.Hour)
	if !pr.before.Equal(wantBefore) {
		t.Errorf("prune cutoff = %v, want %v", pr.before, wantBefore)
	}
}

func TestRecoveryStartValidatesSchedule(t *testing.T) {
	f := newFixture(t)
	r := NewRecovery(f.keys, RecoveryConfig{Schedule: "not a schedule"}, f.clock, nil, nil)

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
	if r.Running() {
		t.Error("task running after rejected Start")
	}
}

func TestRecoveryStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	r := NewRecovery(f.keys, RecoveryConfig{Schedule: "@every 1h"}, f.clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.Running() {
		t.Fatal("Running() = false after Start")
	}
	// A second Start while running is a no-op.
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	r.Stop()
	if r.Running() {
		t.Error("Running() = true after Stop")
	}
	// Stop on a stopped task is a no-op.
	r.Stop()
}
