// Package middleware provides the HTTP middleware chain for the
// management server: request identification, access logging, panic
// recovery, bearer-token authentication, per-client rate limiting,
// CORS, and security headers.
//
// Each concern lives in its own file and composes through the standard
// func(http.Handler) http.Handler shape, applied outermost-first by the
// server.
package middleware
