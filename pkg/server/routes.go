package server

import (
	"net/http"

	"northstar-hq/polaris/pkg/server/middleware"
)

// Handler builds the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/route", s.handleRoute)

	mux.HandleFunc("GET /v1/keys", s.handleListKeys)
	mux.HandleFunc("POST /v1/keys", s.handleRegisterKey)
	mux.HandleFunc("GET /v1/keys/{id}", s.handleGetKey)
	mux.HandleFunc("DELETE /v1/keys/{id}", s.handleRevokeKey)
	mux.HandleFunc("POST /v1/keys/{id}/rotate", s.handleRotateKey)
	mux.HandleFunc("PUT /v1/keys/{id}/state", s.handleKeyState)
	mux.HandleFunc("GET /v1/keys/{id}/quota", s.handleKeyQuota)

	if s.opts.Policies != nil {
		mux.HandleFunc("GET /v1/policies", s.handleListPolicies)
		mux.HandleFunc("POST /v1/policies", s.handleCreatePolicy)
		mux.HandleFunc("GET /v1/policies/{id}", s.handleGetPolicy)
		mux.HandleFunc("PUT /v1/policies/{id}", s.handleUpdatePolicy)
		mux.HandleFunc("DELETE /v1/policies/{id}", s.handleDeletePolicy)
	}

	if s.opts.Budgets != nil {
		mux.HandleFunc("GET /v1/budgets", s.handleListBudgets)
		mux.HandleFunc("POST /v1/budgets", s.handleCreateBudget)
		mux.HandleFunc("GET /v1/budgets/{id}", s.handleGetBudget)
		mux.HandleFunc("DELETE /v1/budgets/{id}", s.handleDeleteBudget)
	}

	mux.HandleFunc("GET /v1/decisions", s.handleListDecisions)
	mux.HandleFunc("GET /v1/decisions/export", s.handleExportDecisions)

	if s.opts.Watcher != nil {
		mux.HandleFunc("POST /v1/config/reload", s.handleConfigReload)
	}
	if s.opts.History != nil {
		mux.HandleFunc("POST /v1/config/rollback", s.handleConfigRollback)
		mux.HandleFunc("GET /v1/config/history", s.handleConfigHistory)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/providers", s.handleProviderHealth)

	metricsPath := s.cfg.Telemetry.Metrics.Path
	metricsEnabled := s.opts.Metrics != nil &&
		(s.cfg.Telemetry.Metrics.Enabled == nil || *s.cfg.Telemetry.Metrics.Enabled)
	if metricsEnabled {
		mux.Handle("GET "+metricsPath, s.opts.Metrics.Handler())
	}

	var handler http.Handler = mux

	// Innermost: authentication, fed back into the rate limiter.
	var limiter *middleware.RateLimiter
	rl := s.cfg.Server.RateLimit
	if rl.Enabled {
		limiter = middleware.NewRateLimiter(
			rl.RequestsPerMinute, rl.Burst, rl.FailureThreshold, rl.BlockDuration, s.clk)
	}

	exempt := []string{"/health", "/health/providers"}
	if metricsEnabled {
		exempt = append(exempt, metricsPath)
	}
	auth := middleware.AuthOptions{Token: s.opts.AuthToken, ExemptPaths: exempt}
	if limiter != nil {
		auth.OnFailure = limiter.RecordFailure
	}
	handler = middleware.BearerAuth(auth)(handler)

	if limiter != nil {
		handler = middleware.RateLimit(limiter)(handler)
	}

	handler = middleware.CORS(s.cfg.Server.CORS)(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}
