package server

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := s.opts.Orchestrator.ProviderHealth()

	status := http.StatusOK
	allHealthy := true
	for _, h := range health {
		if !h.Healthy {
			allHealthy = false
			break
		}
	}
	// Degraded but reachable: the probe succeeds, the body says which
	// providers are down.
	writeJSON(w, status, map[string]any{
		"healthy":   allHealthy,
		"providers": health,
	})
}
