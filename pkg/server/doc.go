// Package server provides the management HTTP server: request routing,
// key and policy administration, budget control, quota inspection,
// decision audit access, health, and metrics.
//
// The server is a thin boundary. Handlers decode, delegate to the
// domain engines, and map domain errors onto HTTP status codes; no
// routing or accounting logic lives here.
//
// # Routes
//
//   - POST   /v1/route                 - route a request through the orchestrator
//   - GET    /v1/keys                  - list keys (material never leaves the server)
//   - POST   /v1/keys                  - register a key
//   - GET    /v1/keys/{id}             - inspect a key
//   - DELETE /v1/keys/{id}             - revoke a key
//   - POST   /v1/keys/{id}/rotate      - rotate key material
//   - PUT    /v1/keys/{id}/state       - force a lifecycle transition
//   - GET    /v1/keys/{id}/quota       - inspect quota state
//   - GET/POST /v1/policies, GET/PUT/DELETE /v1/policies/{id}
//   - GET/POST /v1/budgets, GET/DELETE /v1/budgets/{id}
//   - GET    /v1/decisions             - query the decision audit trail
//   - GET    /v1/decisions/export      - export decisions as CSV or JSON
//   - POST   /v1/config/reload         - reload configuration from disk
//   - POST   /v1/config/rollback       - roll back to the previous snapshot
//   - GET    /v1/config/history        - list retained snapshots
//   - GET    /health, /health/providers
//   - GET    /metrics                  - Prometheus exposition (path configurable)
//
// # Middleware chain
//
// Requests pass through, outermost first: panic recovery, request id,
// access logging, security headers, CORS, rate limiting, bearer-token
// authentication. Authentication failures feed the rate limiter's
// failure counter so brute-force clients get blocked.
//
// Every response is JSON. Errors share one shape:
//
//	{"error": {"type": "not_found", "message": "key k-123 not found"}}
//
// The server supports TLS 1.3 termination and graceful shutdown on
// SIGINT and SIGTERM, bounded by the configured shutdown timeout.
package server
