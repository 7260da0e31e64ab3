package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"northstar-hq/polaris/internal/clock"
)

// RateLimiter enforces a per-client token bucket plus a block list fed
// by authentication failures. Safe for concurrent use.
type RateLimiter struct {
	ratePerSec float64
	burst      float64

	failureThreshold int
	blockDuration    time.Duration

	clk clock.Clock

	mu      sync.Mutex
	clients map[string]*clientState
}

type clientState struct {
	tokens   float64
	lastSeen time.Time

	failures     int
	blockedUntil time.Time
}

// staleAfter is how long an idle client entry survives before pruning.
const staleAfter = time.Hour

// NewRateLimiter builds a limiter allowing requestsPerMinute sustained
// with the given burst headroom. A client accumulating failureThreshold
// authentication failures is blocked for blockDuration.
func NewRateLimiter(requestsPerMinute, burst, failureThreshold int, blockDuration time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		ratePerSec:       float64(requestsPerMinute) / 60.0,
		burst:            float64(burst),
		failureThreshold: failureThreshold,
		blockDuration:    blockDuration,
		clk:              clk,
		clients:          make(map[string]*clientState),
	}
}

// Allow reports whether clientIP may proceed, with the remaining token
// count and, when denied, how long to wait before retrying.
func (rl *RateLimiter) Allow(clientIP string) (ok bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clk.Now()
	cs := rl.client(clientIP, now)

	if now.Before(cs.blockedUntil) {
		return false, 0, cs.blockedUntil.Sub(now)
	}

	elapsed := now.Sub(cs.lastSeen).Seconds()
	cs.tokens += elapsed * rl.ratePerSec
	if cs.tokens > rl.burst {
		cs.tokens = rl.burst
	}
	cs.lastSeen = now

	if cs.tokens < 1 {
		wait := time.Duration((1 - cs.tokens) / rl.ratePerSec * float64(time.Second))
		return false, 0, wait
	}

	cs.tokens--
	return true, int(cs.tokens), 0
}

// RecordFailure counts an authentication failure for clientIP and
// blocks the client once the threshold is reached.
func (rl *RateLimiter) RecordFailure(clientIP string) {
	if rl.failureThreshold <= 0 {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clk.Now()
	cs := rl.client(clientIP, now)
	cs.failures++
	if cs.failures >= rl.failureThreshold {
		cs.blockedUntil = now.Add(rl.blockDuration)
		cs.failures = 0
	}
}

// Blocked reports whether clientIP is currently blocked.
func (rl *RateLimiter) Blocked(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cs, ok := rl.clients[clientIP]
	return ok && rl.clk.Now().Before(cs.blockedUntil)
}

func (rl *RateLimiter) client(clientIP string, now time.Time) *clientState {
	cs, ok := rl.clients[clientIP]
	if !ok {
		// Opportunistic pruning keeps the map bounded without a janitor.
		if len(rl.clients) > 10000 {
			for ip, st := range rl.clients {
				if now.Sub(st.lastSeen) > staleAfter && !now.Before(st.blockedUntil) {
					delete(rl.clients, ip)
				}
			}
		}
		cs = &clientState{tokens: rl.burst, lastSeen: now}
		rl.clients[clientIP] = cs
	}
	return cs
}

// RateLimit rejects requests from clients that are blocked or over
// their sustained allowance. Denials answer 429 with a Retry-After
// hint; allowed responses carry X-RateLimit-Remaining.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, retryAfter := limiter.Allow(ClientIP(r))
			if !ok {
				seconds := int(retryAfter.Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"type":"rate_limited","message":"too many requests"}}`))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			next.ServeHTTP(w, r)
		})
	}
}
