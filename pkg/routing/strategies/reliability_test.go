package strategies

import (
	"strings"
	"testing"

	"northstar-hq/polaris/pkg/state"
)

func TestReliabilityScorePrefersProvenKeys(t *testing.T) {
	// proven serves at rate 1.0, flaky at 0.6, unused is assumed 0.95.
	sctx := testContext(
		testKey("proven", 100, 0),
		testKey("unused", 0, 0),
		testKey("flaky", 100, 40),
	)

	scores := NewReliability().Score(sctx)
	if scores["proven"] != 1.0 {
		t.Errorf("proven score = %v, want 1.0", scores["proven"])
	}
	if scores["flaky"] != 0.0 {
		t.Errorf("flaky score = %v, want 0.0", scores["flaky"])
	}
	if scores["unused"] <= scores["flaky"] || scores["unused"] >= scores["proven"] {
		t.Errorf("unused score = %v, want between flaky and proven", scores["unused"])
	}
}

func TestReliabilityStateDiscount(t *testing.T) {
	recovering := testKey("k1", 100, 0)
	recovering.State = state.KeyStateRecovering
	available := testKey("k2", 100, 0)

	scores := NewReliability().Score(testContext(recovering, available))
	if scores["k2"] != 1.0 {
		t.Errorf("available score = %v, want 1.0", scores["k2"])
	}
	if scores["k1"] != 0.0 {
		t.Errorf("recovering score = %v, want 0.0 after normalization", scores["k1"])
	}
}

func TestReliabilityQuotaNudge(t *testing.T) {
	sctx := testContext(testKey("k1", 10, 0), testKey("k2", 10, 0))
	sctx.Quota["k1"] = &state.QuotaState{KeyID: "k1", CapacityState: state.CapacityCritical}
	sctx.Quota["k2"] = &state.QuotaState{KeyID: "k2", CapacityState: state.CapacityAbundant}

	strat := NewReliability()
	scores := strat.Score(sctx)
	id, _ := strat.Select(sctx, scores)
	if id != "k2" {
		t.Errorf("selected = %s, want abundant k2", id)
	}
	if scores["k1"] >= scores["k2"] {
		t.Errorf("critical key scored %v >= abundant %v", scores["k1"], scores["k2"])
	}
}

func TestReliabilityExplain(t *testing.T) {
	proven := testKey("k1", 10, 2)
	unused := testKey("k2", 0, 0)
	sctx := testContext(proven, unused)
	strat := NewReliability()
	scores := strat.Score(sctx)

	got := strat.Explain(sctx, "k1", scores)
	if !strings.Contains(got, "success rate 0.80") {
		t.Errorf("explanation = %q, want success rate cited", got)
	}
	if !strings.Contains(got, "8 successes, 2 failures") {
		t.Errorf("explanation = %q, want success and failure counts", got)
	}

	got = strat.Explain(sctx, "k2", scores)
	if !strings.Contains(got, "unused") || !strings.Contains(got, "0.95") {
		t.Errorf("explanation = %q, want assumed rate for unused key", got)
	}
}
