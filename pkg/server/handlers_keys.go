package server

import (
	"net/http"
	"time"

	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/state"
)

// keyView is the wire shape of a key. Encrypted material never leaves
// the server, not even ciphertext.
type keyView struct {
	ID             string         `json:"id"`
	ProviderID     string         `json:"provider_id"`
	State          string         `json:"state"`
	StateChangedAt time.Time      `json:"state_changed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	LastUsedAt     *time.Time     `json:"last_used_at,omitempty"`
	UsageCount     int64          `json:"usage_count"`
	FailureCount   int64          `json:"failure_count"`
	CooldownUntil  *time.Time     `json:"cooldown_until,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func viewKey(k *state.Key) keyView {
	return keyView{
		ID:             k.ID,
		ProviderID:     k.ProviderID,
		State:          string(k.State),
		StateChangedAt: k.StateChangedAt,
		CreatedAt:      k.CreatedAt,
		LastUsedAt:     k.LastUsedAt,
		UsageCount:     k.UsageCount,
		FailureCount:   k.FailureCount,
		CooldownUntil:  k.CooldownUntil,
		Metadata:       k.Metadata,
	}
}

func viewKeys(ks []*state.Key) []keyView {
	out := make([]keyView, len(ks))
	for i, k := range ks {
		out[i] = viewKey(k)
	}
	return out
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")

	list, err := s.opts.Keys.List(r.Context(), provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": viewKeys(list)})
}

type registerKeyRequest struct {
	ProviderID string         `json:"provider_id"`
	Material   string         `json:"material"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req registerKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}

	key, err := s.opts.Keys.Register(r.Context(), req.Material, req.ProviderID, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewKey(key))
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.opts.Keys.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewKey(key))
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Keys.Revoke(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateKeyRequest struct {
	Material string `json:"material"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	var req rotateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.Material == "" {
		writeBadRequest(w, "material is required")
		return
	}

	id := r.PathValue("id")
	if err := s.opts.Keys.Rotate(r.Context(), id, req.Material); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.opts.Keys.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewKey(key))
}

type keyStateRequest struct {
	// State is the target lifecycle state.
	State string `json:"state"`

	// Trigger labels the audit transition. Defaults to "manual".
	Trigger string `json:"trigger,omitempty"`

	// CooldownSeconds applies when the target state is throttled.
	CooldownSeconds *int `json:"cooldown_seconds,omitempty"`
}

func (s *Server) handleKeyState(w http.ResponseWriter, r *http.Request) {
	var req keyStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.State == "" {
		writeBadRequest(w, "state is required")
		return
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	treq := keys.TransitionRequest{
		Target:  state.KeyState(req.State),
		Trigger: trigger,
	}
	if req.CooldownSeconds != nil {
		d := time.Duration(*req.CooldownSeconds) * time.Second
		treq.Cooldown = &d
	}

	transition, err := s.opts.Keys.UpdateState(r.Context(), r.PathValue("id"), treq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transition)
}

func (s *Server) handleKeyQuota(w http.ResponseWriter, r *http.Request) {
	if s.opts.Quota == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
			Type: "not_found", Message: "quota tracking is not enabled"}})
		return
	}

	id := r.PathValue("id")
	// Confirm the key exists so an unknown id is a 404, not an empty
	// default quota state.
	if _, err := s.opts.Keys.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	qs, err := s.opts.Quota.State(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}
