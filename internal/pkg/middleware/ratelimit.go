// Package middleware provides HTTP middleware components.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/transitlk/tracking/internal/pkg/errors"
)

const (
	// visitorTTL is how long an idle client keeps its token bucket.
	visitorTTL = 5 * time.Minute

	// pruneEvery bounds how often the visitor table is swept. Pruning is
	// lazy, on the request path, so an idle server holds no timers.
	pruneEvery = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket. Clients are keyed by IP;
// the burst is twice the sustained rate so a page load's burst of
// subscribe calls is not punished.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      rate.Limit
	burst     int
	lastPrune time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// per client.
func NewRateLimiter(perSecond int) *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rate.Limit(perSecond),
		burst:     perSecond * 2,
		lastPrune: time.Now(),
	}
}

// Allow reports whether one more request from the client fits its budget.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastPrune) > pruneEvery {
		for ip, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, ip)
			}
		}
		rl.lastPrune = now
	}

	v, ok := rl.visitors[clientIP]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[clientIP] = v
	}
	v.lastSeen = now

	return v.limiter.Allow()
}

// Middleware rejects over-budget requests with 429 before they reach the
// handler chain.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(getClientIP(r)) {
			apperrors.WriteError(w, apperrors.RateLimitedError(1))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP resolves the client address, trusting proxy headers when
// present: first hop of X-Forwarded-For, then X-Real-IP, then the socket.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
