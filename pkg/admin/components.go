package admin

import (
	"net/http"

	"github.com/txn2/component-state/pkg/componentstate"
)

type statsResponse struct {
	componentstate.Metrics
	ActiveComponents int `json:"active_components"`
}

type cleanupResponse struct {
	Evicted int `json:"evicted"`
}

// getStats handles GET /api/v1/admin/stats.
func (h *Handler) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Metrics:          h.deps.Components.Metrics(),
		ActiveComponents: h.deps.Components.ActiveCount(),
	})
}

// postCleanup handles POST /api/v1/admin/cleanup. It runs one eviction
// pass immediately.
func (h *Handler) postCleanup(w http.ResponseWriter, r *http.Request) {
	n := h.deps.Components.PerformCleanup(r.Context(), componentstate.CleanupReasonManual)
	writeJSON(w, http.StatusOK, cleanupResponse{Evicted: n})
}
