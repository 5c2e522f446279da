// Package collector provides an in-process interaction collector registry.
// It stands in for the chat platform's per-message collectors: one
// collector per message, ending on its own after a TTL, delivering user
// input events on a buffered channel until released.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txn2/component-state/pkg/componentstate"
)

const defaultBufferSize = 16

// Registry errors. Register and Release wrap them in
// *componentstate.ExternalResourceError.
var (
	ErrClosed          = errors.New("collector registry closed")
	ErrMissingMessage  = errors.New("message id is required")
	ErrCollectorExists = errors.New("message already has a collector")
	ErrHandleReleased  = errors.New("collector handle already released")
	ErrNoCollector     = errors.New("no active collector for message")
	ErrCollectorBusy   = errors.New("collector buffer full")
	ErrForeignHandle   = errors.New("handle not issued by this registry")
)

// Event is a single user input delivered to a collector.
type Event struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	CustomID  string    `json:"custom_id"`
	Values    []string  `json:"values,omitempty"`
	At        time.Time `json:"at"`
}

// Handle identifies a registered collector.
type Handle struct {
	id        string
	messageID string
}

// ID returns the handle id.
func (h *Handle) ID() string { return h.id }

// MessageID returns the message the collector is attached to.
func (h *Handle) MessageID() string { return h.messageID }

type entry struct {
	handle *Handle
	events chan Event
	timer  *time.Timer
	ended  bool
}

// Config configures a Registry.
type Config struct {
	// BufferSize is the per-collector event buffer.
	BufferSize int
}

// Registry implements componentstate.Collector in process.
type Registry struct {
	mu        sync.Mutex
	byID      map[string]*entry
	byMessage map[string]*entry
	buffer    int
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Registry{
		byID:      make(map[string]*entry),
		byMessage: make(map[string]*entry),
		buffer:    cfg.BufferSize,
	}
}

// Register attaches a collector to msg. The collector stops accepting
// events after ttl but keeps its handle until released.
func (r *Registry) Register(ctx context.Context, msg componentstate.MessageRef, ttl time.Duration) (componentstate.CollectorHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, registerError(msg.ID, err)
	}
	if msg.ID == "" {
		return nil, registerError("", ErrMissingMessage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, registerError(msg.ID, ErrClosed)
	}
	if _, ok := r.byMessage[msg.ID]; ok {
		return nil, registerError(msg.ID, ErrCollectorExists)
	}

	e := &entry{
		handle: &Handle{id: uuid.NewString(), messageID: msg.ID},
		events: make(chan Event, r.buffer),
	}
	if ttl > 0 {
		e.timer = time.AfterFunc(ttl, func() { r.end(e) })
	}
	r.byID[e.handle.id] = e
	r.byMessage[msg.ID] = e

	slog.Debug("collector: registered", "message_id", msg.ID, "handle", e.handle.id, "ttl", ttl)
	return e.handle, nil
}

// Release detaches a collector and closes its event channel. A second
// release of the same handle fails with ErrHandleReleased.
func (r *Registry) Release(_ context.Context, h componentstate.CollectorHandle) error {
	handle, ok := h.(*Handle)
	if !ok || handle == nil {
		return &componentstate.ExternalResourceError{Op: "release", Err: ErrForeignHandle}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[handle.id]
	if !ok {
		return &componentstate.ExternalResourceError{Op: "release", MessageID: handle.messageID, Err: ErrHandleReleased}
	}
	r.dropLocked(e)
	slog.Debug("collector: released", "message_id", handle.messageID, "handle", handle.id)
	return nil
}

// Dispatch delivers ev to the collector attached to messageID without
// blocking.
func (r *Registry) Dispatch(messageID string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byMessage[messageID]
	if !ok || e.ended {
		return ErrNoCollector
	}
	ev.MessageID = messageID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case e.events <- ev:
		return nil
	default:
		return ErrCollectorBusy
	}
}

// Events returns the event channel of a live handle. The channel is
// closed when the collector ends or is released.
func (r *Registry) Events(h componentstate.CollectorHandle) (<-chan Event, bool) {
	handle, ok := h.(*Handle)
	if !ok || handle == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[handle.id]
	if !ok {
		return nil, false
	}
	return e.events, true
}

// Poll reads up to limit buffered events from a live handle. When none
// are buffered it waits up to wait for the first one; a non-positive wait
// returns at once. open is false once the collector has ended and every
// event has been read. A released or foreign handle yields ErrNoCollector.
func (r *Registry) Poll(ctx context.Context, h componentstate.CollectorHandle, limit int, wait time.Duration) (events []Event, open bool, err error) {
	ch, ok := r.Events(h)
	if !ok {
		return nil, false, ErrNoCollector
	}
	if limit <= 0 {
		limit = r.buffer
	}

	events, open = drain(ch, limit)
	if len(events) > 0 || !open || wait <= 0 {
		return events, open, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			return nil, false, nil
		}
		rest, stillOpen := drain(ch, limit-1)
		return append([]Event{ev}, rest...), stillOpen, nil
	case <-timer.C:
		return nil, true, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	}
}

// drain reads up to limit events without blocking.
func drain(ch <-chan Event, limit int) ([]Event, bool) {
	var out []Event
	for len(out) < limit {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out, false
			}
			out = append(out, ev)
		default:
			return out, true
		}
	}
	return out, true
}

// Active returns the number of registered, unreleased collectors.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Close releases every collector and rejects further registrations.
// It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for _, e := range r.byID {
		r.dropLocked(e)
	}
	return nil
}

// end marks a collector as finished once its TTL fires.
func (r *Registry) end(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ended {
		return
	}
	e.ended = true
	close(e.events)
}

// dropLocked removes e from both indexes. Caller must hold r.mu.
func (r *Registry) dropLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if !e.ended {
		e.ended = true
		close(e.events)
	}
	delete(r.byID, e.handle.id)
	if cur, ok := r.byMessage[e.handle.messageID]; ok && cur == e {
		delete(r.byMessage, e.handle.messageID)
	}
}

func registerError(messageID string, err error) error {
	return &componentstate.ExternalResourceError{Op: "register", MessageID: messageID, Err: err}
}

// Verify interface compliance.
var _ componentstate.Collector = (*Registry)(nil)
