package providers

import (
	"context"
	"errors"
	"testing"

	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/events"
)

// stubAdapter is a minimal Adapter for registry tests.
type stubAdapter struct {
	id string
}

func (s *stubAdapter) ID() string { return s.id }

func (s *stubAdapter) ExecuteRequest(ctx context.Context, intent *RequestIntent, cred Credential) (*Response, error) {
	return &Response{Content: "ok", KeyUsed: cred.KeyID}, nil
}

func (s *stubAdapter) NormalizeResponse(raw []byte) (*Response, error) {
	return &Response{Content: string(raw)}, nil
}

func (s *stubAdapter) MapError(err error) *SystemError {
	return Normalize(s.id, err)
}

func (s *stubAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsStreaming: true, SupportsTools: true}
}

func (s *stubAdapter) EstimateCost(intent *RequestIntent) (state.CostEstimate, error) {
	return state.CostEstimate{}, nil
}

func (s *stubAdapter) Health() HealthState {
	return HealthState{Healthy: true}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	sink := events.NewMemoryEmitter(0)
	registry := NewRegistry(sink)

	if err := registry.Register(&stubAdapter{id: "openai"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	adapter, err := registry.Get("openai")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if adapter.ID() != "openai" {
		t.Errorf("ID() = %q, want openai", adapter.ID())
	}

	if sink.Count(events.ProviderRegistered) != 1 {
		t.Errorf("expected 1 provider_registered event, got %d", sink.Count(events.ProviderRegistered))
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	registry := NewRegistry(nil)

	if err := registry.Register(&stubAdapter{id: "openai"}); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}

	err := registry.Register(&stubAdapter{id: "openai"})
	var dupErr *DuplicateAdapterError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected *DuplicateAdapterError, got %v", err)
	}
	if dupErr.ProviderID != "openai" {
		t.Errorf("ProviderID = %q, want openai", dupErr.ProviderID)
	}
}

func TestRegistry_InvalidIDRejected(t *testing.T) {
	registry := NewRegistry(nil)

	err := registry.Register(&stubAdapter{id: "Invalid ID"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := NewRegistry(nil)

	_, err := registry.Get("missing")
	var unknownErr *UnknownProviderError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected *UnknownProviderError, got %v", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	registry := NewRegistry(nil)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := registry.Register(&stubAdapter{id: id}); err != nil {
			t.Fatalf("Register(%s) error: %v", id, err)
		}
	}

	got := registry.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("List() returned %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if !registry.Has("alpha") {
		t.Error("Has(alpha) = false, want true")
	}
	if registry.Has("missing") {
		t.Error("Has(missing) = true, want false")
	}
}
