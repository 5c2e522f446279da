package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/txn2/component-state/pkg/collector"
	"github.com/txn2/component-state/pkg/componentstate"
	cshttp "github.com/txn2/component-state/pkg/http"
)

type createRequest struct {
	Message     componentstate.MessageRef         `json:"message"`
	Correlation componentstate.CorrelationContext `json:"correlation"`
	TTL         string                            `json:"ttl,omitempty"`
}

type updateRequest struct {
	Data          componentstate.Data `json:"data"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}

type eventRequest struct {
	UserID   string   `json:"user_id"`
	CustomID string   `json:"custom_id"`
	Values   []string `json:"values,omitempty"`
}

type eventsResponse struct {
	Data  []collector.Event `json:"data"`
	Total int               `json:"total"`
	Open  bool              `json:"open"`
}

type listResponse struct {
	Data  []componentstate.ComponentState `json:"data"`
	Total int                             `json:"total"`
}

func (h *Handler) createComponent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []componentstate.CreateOption
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			writeError(w, http.StatusBadRequest, "ttl must be a positive duration")
			return
		}
		opts = append(opts, componentstate.WithTTL(ttl))
	}

	cc := req.Correlation
	if cc.CorrelationID == "" {
		cc.CorrelationID = cshttp.CorrelationID(r.Context())
	}
	if cc.UserID == "" {
		cc.UserID = cshttp.UserID(r.Context())
	}
	if cc.GuildID == "" {
		cc.GuildID = req.Message.GuildID
	}
	if cc.ChannelID == "" {
		cc.ChannelID = req.Message.ChannelID
	}
	if cc.StartTime.IsZero() {
		cc.StartTime = time.Now()
	}

	st, err := h.opts.Components.Create(r.Context(), req.Message, cc, opts...)
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) getComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := h.opts.Components.Get(id)
	if !ok {
		writeComponentError(w, &componentstate.NotFoundError{ID: id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) updateComponent(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")
	corrID := req.CorrelationID
	if corrID == "" {
		corrID = cshttp.CorrelationID(ctx)
	}

	userID := cshttp.UserID(ctx)
	var (
		st  componentstate.ComponentState
		err error
	)
	switch {
	case userID != "":
		st, err = h.opts.Components.UpdateForUser(ctx, userID, id, req.Data, corrID)
	case h.opts.EnforceOwnership:
		writeError(w, http.StatusUnauthorized, cshttp.HeaderUserID+" header is required")
		return
	default:
		st, err = h.opts.Components.Update(ctx, id, req.Data, corrID)
	}
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) listUserComponents(w http.ResponseWriter, r *http.Request) {
	states := h.opts.Components.UserSessions(r.PathValue("userID"))
	if states == nil {
		states = []componentstate.ComponentState{}
	}
	writeJSON(w, http.StatusOK, listResponse{Data: states, Total: len(states)})
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = cshttp.UserID(r.Context())
	}

	err := h.opts.Collectors.Dispatch(r.PathValue("messageID"), collector.Event{
		UserID:   req.UserID,
		CustomID: req.CustomID,
		Values:   req.Values,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, collector.ErrNoCollector):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, collector.ErrCollectorBusy):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// pollEvents returns the user input collected for a component. With
// ?wait=<duration> it long-polls for the first event.
func (h *Handler) pollEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a non-negative duration")
			return
		}
		wait = min(d, maxEventWait)
	}
	var limit int
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	st, ok := h.opts.Components.Get(id)
	if !ok {
		writeComponentError(w, &componentstate.NotFoundError{ID: id})
		return
	}

	events, open, err := h.opts.Collectors.Poll(r.Context(), st.Collector, limit, wait)
	switch {
	case errors.Is(err, collector.ErrNoCollector):
		writeComponentError(w, &componentstate.NotFoundError{ID: id})
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if events == nil {
		events = []collector.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Data: events, Total: len(events), Open: open})
}
