// Package health serves the liveness and readiness probes.
//
//   - GET /healthz always answers 200 while the process serves HTTP.
//   - GET /readyz answers 200 only when every [Checker] passes and the
//     handler is not draining.
//
// Bodies are JSON: {"status": "ok"|"fail"|"draining", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/railuk/internal/preference"
	"github.com/MrWong99/railuk/internal/station"
)

// DefaultCheckTimeout bounds a checker that sets no Timeout.
const DefaultCheckTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Timeout bounds Check. Zero selects DefaultCheckTimeout.
	Timeout time.Duration
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler running checkers concurrently on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Drain makes /readyz fail from now on so load balancers stop routing new
// requests while in-flight ones finish.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// Healthz answers 200 unconditionally.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker under its own deadline. One failure does not
// cancel the others, so every check is reported.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			timeout := c.Timeout
			if timeout <= 0 {
				timeout = DefaultCheckTimeout
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, result{Status: "ok", Checks: checks})
}

// Register adds both probes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ── Checkers ─────────────────────────────────────────────────────────────────

// Store pings the preference store when it implements [preference.Pinger].
// Other stores are always ready.
func Store(s preference.Store) Checker {
	return Checker{Name: "store", Timeout: 2 * time.Second, Check: func(ctx context.Context) error {
		p, ok := s.(preference.Pinger)
		if !ok {
			return nil
		}
		return p.Ping(ctx)
	}}
}

// Catalog is ready once a non-empty station catalog is loaded.
func Catalog(c *station.Catalog) Checker {
	return Checker{Name: "catalog", Check: func(context.Context) error {
		if c == nil || c.Len() == 0 {
			return errors.New("station catalog not loaded")
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
