package orchestrator

import "northstar-hq/polaris/pkg/providers"

// tracker returns the provider's health tracker, creating it on first
// reference.
func (o *Orchestrator) tracker(providerID string) *providers.HealthTracker {
	o.healthMu.Lock()
	defer o.healthMu.Unlock()
	t, ok := o.health[providerID]
	if !ok {
		t = providers.NewHealthTracker(o.healthThreshold, o.clock)
		o.health[providerID] = t
	}
	return t
}

// ProviderHealth snapshots the observed health of every provider the
// orchestrator has routed to, merged with each adapter's self-reported
// state. A provider is reported unhealthy when either side says so.
func (o *Orchestrator) ProviderHealth() map[string]providers.HealthState {
	o.healthMu.Lock()
	tracked := make(map[string]*providers.HealthTracker, len(o.health))
	for id, t := range o.health {
		tracked[id] = t
	}
	o.healthMu.Unlock()

	out := make(map[string]providers.HealthState)
	for _, id := range o.registry.List() {
		adapter, err := o.registry.Get(id)
		if err != nil {
			continue
		}
		hs := adapter.Health()
		if t, ok := tracked[id]; ok {
			observed := t.State()
			observed.Healthy = observed.Healthy && hs.Healthy
			if observed.LastError == "" {
				observed.LastError = hs.LastError
			}
			out[id] = observed
			continue
		}
		out[id] = hs
	}
	// Providers routed to but since unregistered still report.
	for id, t := range tracked {
		if _, ok := out[id]; !ok {
			out[id] = t.State()
		}
	}
	return out
}
