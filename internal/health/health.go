// Package health serves liveness and readiness probes.
//
//   - /healthz always returns 200 while the process serves HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a "status" of "ok" or "fail" and a
// "checks" map holding each checker's outcome.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name is the key of this check in the JSON response, for example
	// "definitions" or "dictation".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from the request, and reports 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
			} else {
				checks[c.Name] = "ok"
			}
			return err
		})
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if err := g.Wait(); err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrNotReady is reported by a [Flag] that was never marked ready.
var ErrNotReady = errors.New("health: not ready")

// Flag is a readiness bit flipped by a long-running component. The zero
// value is not ready.
type Flag struct {
	err atomic.Pointer[error]
	set atomic.Bool
}

// Ready marks the component healthy.
func (f *Flag) Ready() {
	f.err.Store(nil)
	f.set.Store(true)
}

// Fail marks the component unhealthy with err.
func (f *Flag) Fail(err error) {
	f.err.Store(&err)
	f.set.Store(true)
}

// Check reports the flag's state. It satisfies [Checker.Check].
func (f *Flag) Check(context.Context) error {
	if !f.set.Load() {
		return ErrNotReady
	}
	if p := f.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Checker returns a [Checker] named name backed by f.
func (f *Flag) Checker(name string) Checker {
	return Checker{Name: name, Check: f.Check}
}

// writeJSON encodes v before writing the header, so an encoding failure can
// still be answered with a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("health: encode response", "err", err)
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
