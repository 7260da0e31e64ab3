package server

import (
	"net/http"

	"northstar-hq/polaris/pkg/policy"
)

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": s.opts.Policies.List(r.Context())})
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decodeJSON(r, &p); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}

	created, err := s.opts.Policies.Create(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.opts.Policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decodeJSON(r, &p); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}
	// The path is authoritative for the id.
	p.ID = r.PathValue("id")

	updated, err := s.opts.Policies.Update(r.Context(), &p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Policies.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
