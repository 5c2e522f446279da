// Package admin provides authenticated REST endpoints for operating the
// component state service: statistics, manual cleanup and the audit trail.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/txn2/component-state/pkg/audit"
	"github.com/txn2/component-state/pkg/componentstate"
)

// ComponentManager is the subset of the manager used by admin endpoints.
type ComponentManager interface {
	Metrics() componentstate.Metrics
	ActiveCount() int
	PerformCleanup(ctx context.Context, reason string) int
}

// AuditQuerier reads audit events.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
	Count(ctx context.Context, filter audit.QueryFilter) (int, error)
}

// AuditMetricsQuerier aggregates audit events.
type AuditMetricsQuerier interface {
	Overview(ctx context.Context, startTime, endTime *time.Time) (*audit.Overview, error)
	Breakdown(ctx context.Context, filter audit.BreakdownFilter) ([]audit.BreakdownEntry, error)
}

// Deps holds the dependencies of the admin handler. Audit queriers may be
// nil, in which case their routes are not registered.
type Deps struct {
	Components          ComponentManager
	AuditQuerier        AuditQuerier
	AuditMetricsQuerier AuditMetricsQuerier
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	if h.deps.Components != nil {
		h.mux.HandleFunc("GET /api/v1/admin/stats", h.getStats)
		h.mux.HandleFunc("POST /api/v1/admin/cleanup", h.postCleanup)
	}
	if h.deps.AuditQuerier != nil {
		h.mux.HandleFunc("GET /api/v1/admin/audit/events", h.listAuditEvents)
	}
	if h.deps.AuditMetricsQuerier != nil {
		h.mux.HandleFunc("GET /api/v1/admin/audit/metrics/overview", h.getAuditOverview)
		h.mux.HandleFunc("GET /api/v1/admin/audit/metrics/breakdown", h.getAuditBreakdown)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseTimeParam(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// parsePageOffset computes the offset for the 1-based page parameter.
func parsePageOffset(q url.Values, effectiveLimit int) int {
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return (n - 1) * effectiveLimit
		}
	}
	return 0
}

func parseLimit(q url.Values) int {
	if v := q.Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
