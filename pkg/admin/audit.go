package admin

import (
	"net/http"
	"strconv"

	"github.com/txn2/component-state/pkg/audit"
)

// auditEventResponse wraps a paginated list of audit events.
type auditEventResponse struct {
	Data    []audit.Event `json:"data"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000

	paramStartTime = "start_time"
	paramEndTime   = "end_time"
)

// listAuditEvents handles GET /api/v1/admin/audit/events.
func (h *Handler) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		EventType:     audit.EventType(q.Get("event_type")),
		ComponentID:   q.Get("component_id"),
		CorrelationID: q.Get("correlation_id"),
		UserID:        q.Get("user_id"),
		Operation:     q.Get("operation"),
		StartTime:     parseTimeParam(q, paramStartTime),
		EndTime:       parseTimeParam(q, paramEndTime),
	}

	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Success = &b
		}
	}

	filter.Limit = parseLimit(q)
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	effectiveLimit := filter.Limit
	filter.Offset = parsePageOffset(q, effectiveLimit)

	events, err := h.deps.AuditQuerier.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}

	countFilter := filter
	countFilter.Limit = 0
	countFilter.Offset = 0
	total, err := h.deps.AuditQuerier.Count(r.Context(), countFilter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count audit events")
		return
	}

	if events == nil {
		events = []audit.Event{}
	}

	writeJSON(w, http.StatusOK, auditEventResponse{
		Data:    events,
		Total:   total,
		Page:    filter.Offset/effectiveLimit + 1,
		PerPage: effectiveLimit,
	})
}

// getAuditOverview handles GET /api/v1/admin/audit/metrics/overview.
func (h *Handler) getAuditOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	overview, err := h.deps.AuditMetricsQuerier.Overview(
		r.Context(),
		parseTimeParam(q, paramStartTime),
		parseTimeParam(q, paramEndTime),
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query overview")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// getAuditBreakdown handles GET /api/v1/admin/audit/metrics/breakdown.
func (h *Handler) getAuditBreakdown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	groupBy := audit.BreakdownDimension(q.Get("group_by"))
	if !audit.ValidBreakdownDimensions[groupBy] {
		writeError(w, http.StatusBadRequest,
			"invalid group_by: must be kind, operation, user_id, or guild_id")
		return
	}

	var limit int
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.deps.AuditMetricsQuerier.Breakdown(r.Context(), audit.BreakdownFilter{
		GroupBy:   groupBy,
		EventType: audit.EventType(q.Get("event_type")),
		Limit:     limit,
		StartTime: parseTimeParam(q, paramStartTime),
		EndTime:   parseTimeParam(q, paramEndTime),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query breakdown")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
