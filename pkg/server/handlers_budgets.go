package server

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/state"
)

type budgetRequest struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id,omitempty"`

	// Limit is a decimal string, e.g. "250.00".
	Limit    string `json:"limit"`
	Currency string `json:"currency,omitempty"`

	Period string `json:"period"`

	// CustomPeriod is a Go duration string, required when period is
	// custom.
	CustomPeriod string `json:"custom_period,omitempty"`

	Enforcement    string  `json:"enforcement"`
	AlertThreshold float64 `json:"alert_threshold,omitempty"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "malformed request body: "+err.Error())
		return
	}

	limit, err := decimal.NewFromString(req.Limit)
	if err != nil {
		writeBadRequest(w, "limit must be a decimal string")
		return
	}

	b := &cost.Budget{
		Scope:          cost.Scope(req.Scope),
		ScopeID:        req.ScopeID,
		Limit:          limit,
		Currency:       req.Currency,
		Period:         state.TimeWindow(req.Period),
		Enforcement:    cost.Enforcement(req.Enforcement),
		AlertThreshold: req.AlertThreshold,
	}
	if req.CustomPeriod != "" {
		d, err := time.ParseDuration(req.CustomPeriod)
		if err != nil {
			writeBadRequest(w, "custom_period must be a duration string")
			return
		}
		b.CustomPeriod = d
	}

	created, err := s.opts.Budgets.CreateBudget(r.Context(), b)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"budgets": s.opts.Budgets.ListBudgets(r.Context())})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Budgets.GetBudget(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Budgets.DeleteBudget(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
