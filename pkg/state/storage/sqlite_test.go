package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"northstar-hq/polaris/pkg/state"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.SaveKey(ctx, testKey("k1", "openai", state.KeyStateAvailable, created)); err != nil {
		t.Fatalf("SaveKey() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetKey() after reopen error = %v", err)
	}
	if got.ProviderID != "openai" {
		t.Errorf("ProviderID = %q, want openai", got.ProviderID)
	}
}

func TestSQLiteStore_PruneAudit(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		d := &state.RoutingDecision{
			ID:                 fmt.Sprintf("d%d", i),
			RequestID:          "req",
			SelectedKeyID:      "k1",
			SelectedProviderID: "openai",
			Timestamp:          ts,
			EligibleKeys:       []string{"k1"},
			Scores:             map[string]float64{"k1": 1},
			Explanation:        "only candidate",
			Confidence:         1,
		}
		if err := store.SaveRoutingDecision(ctx, d); err != nil {
			t.Fatalf("SaveRoutingDecision(%d) error = %v", i, err)
		}
		tr := &state.StateTransition{
			ID:         fmt.Sprintf("t%d", i),
			EntityType: state.EntityKey,
			EntityID:   "k1",
			FromState:  "available",
			ToState:    "throttled",
			Timestamp:  ts,
			Trigger:    "rate_limit",
		}
		if err := store.SaveStateTransition(ctx, tr); err != nil {
			t.Fatalf("SaveStateTransition(%d) error = %v", i, err)
		}
	}

	removed, err := store.PruneAudit(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("PruneAudit() error = %v", err)
	}
	if removed != 6 {
		t.Errorf("PruneAudit() removed %d rows, want 6", removed)
	}

	res, err := store.QueryState(ctx, state.Query{EntityType: state.EntityDecision})
	if err != nil {
		t.Fatalf("QueryState() error = %v", err)
	}
	if len(res.Decisions) != 3 {
		t.Errorf("decisions after prune = %d, want 3", len(res.Decisions))
	}
	for _, d := range res.Decisions {
		if d.Timestamp.Before(base.Add(3 * time.Hour)) {
			t.Errorf("decision %q older than cutoff survived", d.ID)
		}
	}
}

func TestSQLiteStore_EmptyPathRejected(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Fatal("NewSQLiteStore(\"\") did not fail")
	}
}
