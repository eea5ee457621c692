// Package health provides HTTP health check handlers.
//
// Two endpoints are exposed:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /api/health: dependency health; probes every registered [Checker]
//     concurrently and reports a per-service status plus an overall verdict.
//
// A service is "ok", "degraded" (reachable but impaired, e.g. a configured
// model missing from the inference server), or "down". The overall status is
// "ok" when every service is ok, "down" when every service is down, and
// "degraded" otherwise. Only a fully down system returns 503; a degraded one
// still serves what it can.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 2 * time.Second

// Status classifies one service or the whole system.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Checker is a named dependency probe. Check reports the service status and
// an optional human-readable detail. It must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) (Status, string)
}

// serviceResult is one service's entry in the JSON response.
type serviceResult struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// result is the JSON response body for /api/health.
type result struct {
	Status   Status                   `json:"status"`
	Services map[string]serviceResult `json:"services,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] probing the given checkers on each /api/health
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Health probes every registered checker concurrently, each with its own
// 2-second budget, and reports the aggregate.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]serviceResult, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			status, detail := c.Check(ctx)

			mu.Lock()
			services[c.Name] = serviceResult{Status: status, Detail: detail}
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	overall := aggregate(services)
	code := http.StatusOK
	if overall == StatusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result{Status: overall, Services: services})
}

// aggregate folds per-service statuses into the overall verdict.
func aggregate(services map[string]serviceResult) Status {
	if len(services) == 0 {
		return StatusOK
	}
	allOK, allDown := true, true
	for _, s := range services {
		if s.Status != StatusOK {
			allOK = false
		}
		if s.Status != StatusDown {
			allDown = false
		}
	}
	switch {
	case allOK:
		return StatusOK
	case allDown:
		return StatusDown
	default:
		return StatusDegraded
	}
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /api/health", h.Health)
}

// PingChecker adapts a ping-style dependency (Postgres, Redis) into a
// Checker: a successful ping is ok, anything else is down.
func PingChecker(name string, ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) (Status, string) {
			if err := ping(ctx); err != nil {
				return StatusDown, err.Error()
			}
			return StatusOK, ""
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
