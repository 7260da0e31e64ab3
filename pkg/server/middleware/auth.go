package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// AuthOptions configures bearer-token authentication.
type AuthOptions struct {
	// Token is the expected bearer token. Empty disables authentication
	// entirely; the server only does that when no token is configured.
	Token string

	// ExemptPaths are served without authentication (health probes, the
	// metrics scrape endpoint).
	ExemptPaths []string

	// OnFailure is called with the client address on every rejected
	// request, so the rate limiter can count authentication failures.
	OnFailure func(clientIP string)
}

// BearerAuth rejects requests whose Authorization header does not carry
// the configured token. Comparison is constant-time.
func BearerAuth(opts AuthOptions) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(opts.ExemptPaths))
	for _, p := range opts.ExemptPaths {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Token == "" || exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(opts.Token)) != 1 {
				if opts.OnFailure != nil {
					opts.OnFailure(ClientIP(r))
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="polaris"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"type":"unauthorized","message":"missing or invalid bearer token"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's client address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
