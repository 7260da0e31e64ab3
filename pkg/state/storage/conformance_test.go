package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"northstar-hq/polaris/pkg/state"
)

// storeFactory builds a fresh store per test case so backings can be
// exercised by one shared suite.
type storeFactory struct {
	name string
	make func(t *testing.T) state.StateStore
}

func allStores(t *testing.T) []storeFactory {
	t.Helper()
	return []storeFactory{
		{
			name: "memory",
			make: func(t *testing.T) state.StateStore {
				s := NewMemoryStore()
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
		{
			name: "redis",
			make: func(t *testing.T) state.StateStore {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				s := NewRedisStoreWithClient(client, RedisConfig{Addr: mr.Addr()})
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
		{
			name: "sqlite",
			make: func(t *testing.T) state.StateStore {
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
				if err != nil {
					t.Fatalf("NewSQLiteStore() error = %v", err)
				}
				t.Cleanup(func() { s.Close() })
				return s
			},
		},
	}
}

func testKey(id, provider string, st state.KeyState, createdAt time.Time) *state.Key {
	return &state.Key{
		ID:                id,
		ProviderID:        provider,
		EncryptedMaterial: []byte("ciphertext-" + id),
		State:             st,
		StateChangedAt:    createdAt,
		CreatedAt:         createdAt,
		Metadata:          map[string]any{"region": "us-east-1"},
	}
}

func cmpTime(t *testing.T, field string, got, want time.Time) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func TestStores_KeyRoundTrip(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()

			created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
			lastUsed := created.Add(time.Hour)
			cooldown := created.Add(2 * time.Hour)
			orig := testKey("k1", "openai", state.KeyStateThrottled, created)
			orig.LastUsedAt = &lastUsed
			orig.CooldownUntil = &cooldown
			orig.UsageCount = 12
			orig.FailureCount = 3

			if err := store.SaveKey(ctx, orig); err != nil {
				t.Fatalf("SaveKey() error = %v", err)
			}

			got, err := store.GetKey(ctx, "k1")
			if err != nil {
				t.Fatalf("GetKey() error = %v", err)
			}

			if got.ID != orig.ID {
				t.Errorf("ID = %q, want %q", got.ID, orig.ID)
			}
			if got.ProviderID != orig.ProviderID {
				t.Errorf("ProviderID = %q, want %q", got.ProviderID, orig.ProviderID)
			}
			if string(got.EncryptedMaterial) != string(orig.EncryptedMaterial) {
				t.Errorf("EncryptedMaterial = %q, want %q", got.EncryptedMaterial, orig.EncryptedMaterial)
			}
			if got.State != state.KeyStateThrottled {
				t.Errorf("State = %q, want %q", got.State, state.KeyStateThrottled)
			}
			cmpTime(t, "CreatedAt", got.CreatedAt, created)
			cmpTime(t, "StateChangedAt", got.StateChangedAt, created)
			if got.LastUsedAt == nil {
				t.Fatal("LastUsedAt is nil")
			}
			cmpTime(t, "LastUsedAt", *got.LastUsedAt, lastUsed)
			if got.CooldownUntil == nil {
				t.Fatal("CooldownUntil is nil")
			}
			cmpTime(t, "CooldownUntil", *got.CooldownUntil, cooldown)
			if got.UsageCount != 12 || got.FailureCount != 3 {
				t.Errorf("counts = %d/%d, want 12/3", got.UsageCount, got.FailureCount)
			}
			if got.Metadata["region"] != "us-east-1" {
				t.Errorf("Metadata[region] = %v, want us-east-1", got.Metadata["region"])
			}
		})
	}
}

func TestStores_GetKeyNotFound(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			_, err := store.GetKey(context.Background(), "missing")
			if !errors.Is(err, state.ErrNotFound) {
				t.Errorf("GetKey(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStores_SaveKeyUpserts(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

			k := testKey("k1", "openai", state.KeyStateAvailable, created)
			if err := store.SaveKey(ctx, k); err != nil {
				t.Fatalf("SaveKey() error = %v", err)
			}

			k.UsageCount = 5
			k.State = state.KeyStateRecovering
			if err := store.SaveKey(ctx, k); err != nil {
				t.Fatalf("SaveKey() second error = %v", err)
			}

			got, err := store.GetKey(ctx, "k1")
			if err != nil {
				t.Fatalf("GetKey() error = %v", err)
			}
			if got.UsageCount != 5 {
				t.Errorf("UsageCount = %d, want 5", got.UsageCount)
			}
			if got.State != state.KeyStateRecovering {
				t.Errorf("State = %q, want recovering", got.State)
			}

			keys, err := store.ListKeys(ctx, "")
			if err != nil {
				t.Fatalf("ListKeys() error = %v", err)
			}
			if len(keys) != 1 {
				t.Errorf("ListKeys() returned %d keys after upsert, want 1", len(keys))
			}
		})
	}
}

func TestStores_ListKeysFiltersAndOrders(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

			for i, spec := range []struct {
				id       string
				provider string
			}{
				{"k3", "openai"},
				{"k1", "openai"},
				{"k2", "anthropic"},
			} {
				k := testKey(spec.id, spec.provider, state.KeyStateAvailable, base.Add(time.Duration(i)*time.Minute))
				if err := store.SaveKey(ctx, k); err != nil {
					t.Fatalf("SaveKey(%s) error = %v", spec.id, err)
				}
			}

			all, err := store.ListKeys(ctx, "")
			if err != nil {
				t.Fatalf("ListKeys(all) error = %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("ListKeys(all) returned %d keys, want 3", len(all))
			}
			// Oldest first by creation time.
			wantOrder := []string{"k3", "k1", "k2"}
			for i, want := range wantOrder {
				if all[i].ID != want {
					t.Errorf("ListKeys(all)[%d] = %q, want %q", i, all[i].ID, want)
				}
			}

			openai, err := store.ListKeys(ctx, "openai")
			if err != nil {
				t.Fatalf("ListKeys(openai) error = %v", err)
			}
			if len(openai) != 2 {
				t.Fatalf("ListKeys(openai) returned %d keys, want 2", len(openai))
			}
			for _, k := range openai {
				if k.ProviderID != "openai" {
					t.Errorf("ListKeys(openai) returned key for %q", k.ProviderID)
				}
			}
		})
	}
}

func TestStores_QuotaStateRoundTrip(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()

			total := int64(1000)
			tokTotal := int64(90000)
			tokRemaining := state.Exact(80000, 0.9, state.MethodProviderReported)
			reset := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
			updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			orig := &state.QuotaState{
				ID:              "q1",
				KeyID:           "k1",
				CapacityState:   state.CapacityConstrained,
				Unit:            state.UnitMixed,
				Remaining:       state.Between(500, 700, 0.6, state.MethodHeuristic),
				Total:           &total,
				Used:            400,
				TokensRemaining: &tokRemaining,
				TokensTotal:     &tokTotal,
				TokensUsed:      10000,
				Window:          state.WindowDaily,
				ResetAt:         reset,
				UpdatedAt:       updated,
			}
			if err := store.SaveQuotaState(ctx, orig); err != nil {
				t.Fatalf("SaveQuotaState() error = %v", err)
			}

			got, err := store.GetQuotaState(ctx, "k1")
			if err != nil {
				t.Fatalf("GetQuotaState() error = %v", err)
			}
			if got.CapacityState != state.CapacityConstrained {
				t.Errorf("CapacityState = %q, want constrained", got.CapacityState)
			}
			if got.Unit != state.UnitMixed {
				t.Errorf("Unit = %q, want mixed", got.Unit)
			}
			if got.Remaining.Kind != state.EstimateRange || got.Remaining.Min != 500 || got.Remaining.Max != 700 {
				t.Errorf("Remaining = %+v, want range 500-700", got.Remaining)
			}
			if got.Total == nil || *got.Total != 1000 {
				t.Errorf("Total = %v, want 1000", got.Total)
			}
			if got.Used != 400 || got.TokensUsed != 10000 {
				t.Errorf("used = %d/%d, want 400/10000", got.Used, got.TokensUsed)
			}
			if got.TokensRemaining == nil || got.TokensRemaining.Value != 80000 {
				t.Errorf("TokensRemaining = %+v, want exact 80000", got.TokensRemaining)
			}
			cmpTime(t, "ResetAt", got.ResetAt, reset)
			cmpTime(t, "UpdatedAt", got.UpdatedAt, updated)

			// Upsert by key id: a second save replaces, never duplicates.
			orig.Used = 500
			orig.CapacityState = state.CapacityCritical
			if err := store.SaveQuotaState(ctx, orig); err != nil {
				t.Fatalf("SaveQuotaState() upsert error = %v", err)
			}
			got, err = store.GetQuotaState(ctx, "k1")
			if err != nil {
				t.Fatalf("GetQuotaState() after upsert error = %v", err)
			}
			if got.Used != 500 || got.CapacityState != state.CapacityCritical {
				t.Errorf("after upsert used = %d state = %q, want 500 critical", got.Used, got.CapacityState)
			}
		})
	}
}

func TestStores_QuotaStateNotFound(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			_, err := store.GetQuotaState(context.Background(), "missing")
			if !errors.Is(err, state.ErrNotFound) {
				t.Errorf("GetQuotaState(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStores_DecisionRoundTrip(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			d := &state.RoutingDecision{
				ID:                 "d1",
				RequestID:          "req-1",
				CorrelationID:      "corr-1",
				SelectedKeyID:      "k1",
				SelectedProviderID: "openai",
				Timestamp:          ts,
				Objective:          state.Objective{Primary: state.ObjectiveCost},
				EligibleKeys:       []string{"k1", "k2"},
				Scores:             map[string]float64{"k1": 1.0, "k2": 0.5},
				Explanation:        "selected k1: lowest estimated cost $0.01",
				Confidence:         1.0,
				Alternatives: []state.Alternative{
					{KeyID: "k2", ProviderID: "openai", Score: 0.5, Reason: "higher estimated cost"},
				},
			}
			if err := store.SaveRoutingDecision(ctx, d); err != nil {
				t.Fatalf("SaveRoutingDecision() error = %v", err)
			}

			res, err := store.QueryState(ctx, state.Query{EntityType: state.EntityDecision, KeyID: "k1"})
			if err != nil {
				t.Fatalf("QueryState() error = %v", err)
			}
			if len(res.Decisions) != 1 {
				t.Fatalf("QueryState() returned %d decisions, want 1", len(res.Decisions))
			}
			got := res.Decisions[0]
			if got.ID != "d1" || got.RequestID != "req-1" || got.CorrelationID != "corr-1" {
				t.Errorf("ids = %q/%q/%q, want d1/req-1/corr-1", got.ID, got.RequestID, got.CorrelationID)
			}
			if got.SelectedKeyID != "k1" || got.SelectedProviderID != "openai" {
				t.Errorf("selection = %q/%q, want k1/openai", got.SelectedKeyID, got.SelectedProviderID)
			}
			if got.Objective.Primary != state.ObjectiveCost {
				t.Errorf("Objective.Primary = %q, want cost", got.Objective.Primary)
			}
			if len(got.EligibleKeys) != 2 || got.EligibleKeys[0] != "k1" {
				t.Errorf("EligibleKeys = %v, want [k1 k2]", got.EligibleKeys)
			}
			if got.Scores["k2"] != 0.5 {
				t.Errorf("Scores[k2] = %v, want 0.5", got.Scores["k2"])
			}
			if got.Explanation == "" {
				t.Error("Explanation is empty")
			}
			if got.Confidence != 1.0 {
				t.Errorf("Confidence = %v, want 1.0", got.Confidence)
			}
			if len(got.Alternatives) != 1 || got.Alternatives[0].KeyID != "k2" {
				t.Errorf("Alternatives = %+v, want one entry for k2", got.Alternatives)
			}
			cmpTime(t, "Timestamp", got.Timestamp, ts)
		})
	}
}

func TestStores_TransitionRoundTrip(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			tr := &state.StateTransition{
				ID:         "t1",
				EntityType: state.EntityKey,
				EntityID:   "k1",
				FromState:  string(state.KeyStateAvailable),
				ToState:    string(state.KeyStateThrottled),
				Timestamp:  ts,
				Trigger:    "rate_limit",
				Context:    map[string]string{"retry_after": "60"},
			}
			if err := store.SaveStateTransition(ctx, tr); err != nil {
				t.Fatalf("SaveStateTransition() error = %v", err)
			}

			res, err := store.QueryState(ctx, state.Query{EntityType: state.EntityTransition, KeyID: "k1"})
			if err != nil {
				t.Fatalf("QueryState() error = %v", err)
			}
			if len(res.Transitions) != 1 {
				t.Fatalf("QueryState() returned %d transitions, want 1", len(res.Transitions))
			}
			got := res.Transitions[0]
			if got.FromState != "available" || got.ToState != "throttled" {
				t.Errorf("transition = %q->%q, want available->throttled", got.FromState, got.ToState)
			}
			if got.Trigger != "rate_limit" {
				t.Errorf("Trigger = %q, want rate_limit", got.Trigger)
			}
			if got.Context["retry_after"] != "60" {
				t.Errorf("Context[retry_after] = %q, want 60", got.Context["retry_after"])
			}
			cmpTime(t, "Timestamp", got.Timestamp, ts)
		})
	}
}

func TestStores_QueryStateFilters(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

			specs := []struct {
				id       string
				provider string
				st       state.KeyState
				offset   time.Duration
			}{
				{"k1", "openai", state.KeyStateAvailable, 0},
				{"k2", "openai", state.KeyStateThrottled, time.Hour},
				{"k3", "anthropic", state.KeyStateAvailable, 2 * time.Hour},
				{"k4", "openai", state.KeyStateAvailable, 3 * time.Hour},
			}
			for _, spec := range specs {
				k := testKey(spec.id, spec.provider, spec.st, base.Add(spec.offset))
				if spec.st == state.KeyStateThrottled {
					cd := base.Add(spec.offset).Add(time.Minute)
					k.CooldownUntil = &cd
				}
				if err := store.SaveKey(ctx, k); err != nil {
					t.Fatalf("SaveKey(%s) error = %v", spec.id, err)
				}
			}

			// Provider + state filter returns exactly the matching set.
			res, err := store.QueryState(ctx, state.Query{
				EntityType: state.EntityKey,
				ProviderID: "openai",
				State:      string(state.KeyStateAvailable),
			})
			if err != nil {
				t.Fatalf("QueryState() error = %v", err)
			}
			if len(res.Keys) != 2 {
				t.Fatalf("filtered query returned %d keys, want 2", len(res.Keys))
			}
			for _, k := range res.Keys {
				if k.ProviderID != "openai" || k.State != state.KeyStateAvailable {
					t.Errorf("query returned non-matching key %q (%s/%s)", k.ID, k.ProviderID, k.State)
				}
			}

			// Timestamp range is inclusive on both bounds.
			res, err = store.QueryState(ctx, state.Query{
				EntityType: state.EntityKey,
				Since:      base.Add(time.Hour),
				Until:      base.Add(2 * time.Hour),
			})
			if err != nil {
				t.Fatalf("QueryState() range error = %v", err)
			}
			if len(res.Keys) != 2 {
				t.Fatalf("range query returned %d keys, want 2", len(res.Keys))
			}
			if res.Keys[0].ID != "k2" || res.Keys[1].ID != "k3" {
				t.Errorf("range query = [%s %s], want [k2 k3]", res.Keys[0].ID, res.Keys[1].ID)
			}

			// Limit and offset page through the ordered result.
			res, err = store.QueryState(ctx, state.Query{
				EntityType: state.EntityKey,
				Limit:      2,
				Offset:     1,
			})
			if err != nil {
				t.Fatalf("QueryState() pagination error = %v", err)
			}
			if len(res.Keys) != 2 {
				t.Fatalf("paged query returned %d keys, want 2", len(res.Keys))
			}
			if res.Keys[0].ID != "k2" || res.Keys[1].ID != "k3" {
				t.Errorf("paged query = [%s %s], want [k2 k3]", res.Keys[0].ID, res.Keys[1].ID)
			}
		})
	}
}

func TestStores_DecisionsNewestFirst(t *testing.T) {
	for _, factory := range allStores(t) {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.make(t)
			ctx := context.Background()
			base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

			for i := 0; i < 3; i++ {
				d := &state.RoutingDecision{
					ID:                 "d" + string(rune('1'+i)),
					RequestID:          "req",
					CorrelationID:      "corr-" + string(rune('1'+i)),
					SelectedKeyID:      "k1",
					SelectedProviderID: "openai",
					Timestamp:          base.Add(time.Duration(i) * time.Minute),
					Objective:          state.Objective{Primary: state.ObjectiveFairness},
					EligibleKeys:       []string{"k1"},
					Scores:             map[string]float64{"k1": 1},
					Explanation:        "only candidate",
					Confidence:         1,
				}
				if err := store.SaveRoutingDecision(ctx, d); err != nil {
					t.Fatalf("SaveRoutingDecision() error = %v", err)
				}
			}

			res, err := store.QueryState(ctx, state.Query{EntityType: state.EntityDecision})
			if err != nil {
				t.Fatalf("QueryState() error = %v", err)
			}
			if len(res.Decisions) != 3 {
				t.Fatalf("QueryState() returned %d decisions, want 3", len(res.Decisions))
			}
			want := []string{"d3", "d2", "d1"}
			for i, id := range want {
				if res.Decisions[i].ID != id {
					t.Errorf("Decisions[%d].ID = %q, want %q", i, res.Decisions[i].ID, id)
				}
			}
		})
	}
}
