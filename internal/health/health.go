// Package health serves readiness for the worker: the checkpoint database answers a ping and the
// document store database is readable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const checkTimeout = 2 * time.Second

// Status values reported in the response body.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker is one named readiness check.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Handler reports SERVING when every configured check passes. Nil checks are skipped.
type Handler struct {
	pinger Pinger
	checks map[string]Checker
}

// NewHandler returns a readiness handler. pinger may be nil (memory backend).
func NewHandler(pinger Pinger, checks map[string]Checker) *Handler {
	return &Handler{pinger: pinger, checks: checks}
}

type response struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Check runs all checks and returns the failures by name.
func (h *Handler) Check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	failed := map[string]string{}
	if h.pinger != nil {
		if err := h.pinger.PingContext(ctx); err != nil {
			failed["database"] = err.Error()
		}
	}
	for name, c := range h.checks {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// ServeHTTP implements http.Handler. A failing check is a 503, never a transport error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: StatusServing}
	code := http.StatusOK
	if failed := h.Check(r.Context()); len(failed) > 0 {
		resp = response{Status: StatusNotServing, Failed: failed}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
