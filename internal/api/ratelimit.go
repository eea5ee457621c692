package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter housekeeping bounds: idle entries older than pruneAfter are dropped
// once the pool grows past pruneThreshold keys.
const (
	pruneAfter     = 10 * time.Minute
	pruneThreshold = 1024
)

// limiterPool keeps one token bucket per key (user ID or client IP), refilled
// at a per-minute rate.
type limiterPool struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newLimiterPool creates a pool allowing perMinute requests per key, with a
// burst of the same size.
func newLimiterPool(perMinute int) *limiterPool {
	return &limiterPool{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// allow reports whether a request for key fits its budget.
func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.entries[key] = e
	}
	e.lastSeen = p.now()
	if len(p.entries) > pruneThreshold {
		p.prune()
	}
	p.mu.Unlock()

	return e.lim.Allow()
}

// prune drops idle entries. Caller holds the lock.
func (p *limiterPool) prune() {
	cutoff := p.now().Add(-pruneAfter)
	for key, e := range p.entries {
		if e.lastSeen.Before(cutoff) {
			delete(p.entries, key)
		}
	}
}

// rateLimit rejects requests over the pool's budget for the key derived from
// the request. Rejections carry a Retry-After hint.
func (s *Server) rateLimit(pool *limiterPool, keyFn func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !pool.allow(keyFn(r)) {
			w.Header().Set("Retry-After", "60")
			s.writeErrorCode(w, r, http.StatusTooManyRequests, "rate_limited",
				"request rate limit exceeded, retry later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the originating client address: the first X-Forwarded-For
// hop when present, the socket peer otherwise.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// userKey keys the per-user pool by the authenticated identity.
func userKey(r *http.Request) string {
	return UserID(r.Context())
}
