// Package health provides readiness state tracking and HTTP health check handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

const defaultCheckTimeout = 2 * time.Second

// CheckFunc probes a dependency. A non-nil error marks the service not ready.
type CheckFunc func(ctx context.Context) error

// Checker tracks the readiness state of the service.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32

	mu     sync.RWMutex
	active func() int
	checks map[string]CheckFunc
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// SetActiveCounter reports fn's value as active_components in readiness
// responses.
func (c *Checker) SetActiveCounter(fn func() int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = fn
}

// AddCheck registers a named dependency probe run on every readiness request.
func (c *Checker) AddCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status           string            `json:"status"`
	ActiveComponents *int              `json:"active_components,omitempty"`
	Checks           map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and every check passes, and 503 otherwise.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: c.State()}
		ok := c.IsReady()

		c.mu.RLock()
		active := c.active
		checks := make(map[string]CheckFunc, len(c.checks))
		for name, fn := range c.checks {
			checks[name] = fn
		}
		c.mu.RUnlock()

		if active != nil {
			n := active()
			resp.ActiveComponents = &n
		}

		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), defaultCheckTimeout)
			defer cancel()

			resp.Checks = make(map[string]string, len(checks))
			for name, fn := range checks {
				if err := fn(ctx); err != nil {
					resp.Checks[name] = err.Error()
					ok = false
					continue
				}
				resp.Checks[name] = "ok"
			}
		}

		if ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		if resp.Status == "ready" {
			resp.Status = "degraded"
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
