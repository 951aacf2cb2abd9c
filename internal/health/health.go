// Package health serves liveness and readiness probes for the game server.
//
// /healthz answers 200 as long as the process can serve HTTP. /readyz runs
// every registered [Checker] — world store, external bus, game loop — and
// answers 503 until all of them pass, so an orchestrator holds traffic back
// while the server is still warming up or has lost a dependency.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and an error describing the failure otherwise.
type Checker struct {
	// Name keys this check in the /readyz response ("store", "bus",
	// "game_loop").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Connectable is the slice of a bus the readiness probe needs.
type Connectable interface {
	IsConnected() bool
}

// BusConnected reports the external event bus as ready only while it holds a
// live connection. A tripped forwarding guard shows up here as not ready.
func BusConnected(bus Connectable) Checker {
	return Checker{
		Name: "bus",
		Check: func(context.Context) error {
			if !bus.IsConnected() {
				return errors.New("external bus disconnected")
			}
			return nil
		},
	}
}

// StorePing wraps a persistence ping, pgxpool.Pool.Ping in production.
func StorePing(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "store", Check: ping}
}

// LoopAlive reports the game loop as ready while its last tick is younger
// than maxAge. A loop that has never ticked is not ready — the world is not
// advancing yet.
func LoopAlive(lastTick func() time.Time, maxAge time.Duration) Checker {
	return Checker{
		Name: "game_loop",
		Check: func(context.Context) error {
			last := lastTick()
			if last.IsZero() {
				return errors.New("game loop has not ticked")
			}
			if age := time.Since(last); age > maxAge {
				return fmt.Errorf("game loop stalled for %s", age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// checkStatus is one entry in the /readyz checks map.
type checkStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// result is the JSON body for both probes.
type result struct {
	Status string                 `json:"status"`
	Checks map[string]checkStatus `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz routes. The checker list is fixed
// at construction, so it is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker under a [checkTimeout] deadline derived from the
// request context and answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkStatus, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = checkStatus{Status: "fail", Error: err.Error()}
			allOK = false
		} else {
			checks[c.Name] = checkStatus{Status: "ok"}
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
