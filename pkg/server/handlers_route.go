package server

import (
	"net/http"

	"northstar-hq/polaris/pkg/providers"
)

type routeRequest struct {
	// Intent is the request to place: model, messages, parameters, and
	// the target provider.
	Intent *providers.RequestIntent `json:"intent"`

	// Objective names the routing preference (cost, reliability,
	// fairness, quality, latency, speed). Empty uses the configured
	// default.
	Objective string `json:"objective,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.Intent == nil {
		writeBadRequest(w, "intent is required")
		return
	}

	objective := req.Objective
	if objective == "" {
		objective = s.cfg.Routing.DefaultObjective
	}

	resp, err := s.opts.Orchestrator.RouteNamed(r.Context(), req.Intent, objective)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
