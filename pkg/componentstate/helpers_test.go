package componentstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	testUser1   = "user-1"
	testUser2   = "user-2"
	testCorrID  = "corr-1"
	testMessage = "msg-1"
)

var errRegister = errors.New("platform rejected collector")

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

// fakeCollector records registrations and releases.
type fakeCollector struct {
	mu          sync.Mutex
	seq         int
	registerErr error
	releaseErr  error
	active      map[string]bool
	released    map[string]int
	ttls        []time.Duration
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		active:   make(map[string]bool),
		released: make(map[string]int),
	}
}

func (c *fakeCollector) Register(_ context.Context, msg MessageRef, ttl time.Duration) (CollectorHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registerErr != nil {
		return nil, c.registerErr
	}
	c.seq++
	h := fakeHandle(fmt.Sprintf("%s-h%d", msg.ID, c.seq))
	c.active[h.ID()] = true
	c.ttls = append(c.ttls, ttl)
	return h, nil
}

func (c *fakeCollector) Release(_ context.Context, h CollectorHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.released[h.ID()]++
	if c.releaseErr != nil {
		return c.releaseErr
	}
	delete(c.active, h.ID())
	return nil
}

func (c *fakeCollector) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *fakeCollector) releaseCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released[id]
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingObserver keeps every observation.
type recordingObserver struct {
	mu           sync.Mutex
	interactions []Interaction
	errs         []Operation
	timings      []Operation
}

func (o *recordingObserver) LogComponentInteraction(_ context.Context, in Interaction) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interactions = append(o.interactions, in)
	return nil
}

func (o *recordingObserver) LogError(_ context.Context, op Operation, _ error, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, op)
	return nil
}

func (o *recordingObserver) LogPerformance(_ context.Context, op Operation, _ time.Duration, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timings = append(o.timings, op)
	return nil
}

func (o *recordingObserver) kinds() []InteractionKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]InteractionKind, 0, len(o.interactions))
	for _, in := range o.interactions {
		out = append(out, in.Kind)
	}
	return out
}

// brokenObserver panics or fails on every call.
type brokenObserver struct {
	panics bool
	calls  atomic.Int64
}

func (o *brokenObserver) fail() error {
	o.calls.Add(1)
	if o.panics {
		panic("log sink exploded")
	}
	return errors.New("log sink unavailable")
}

func (o *brokenObserver) LogComponentInteraction(context.Context, Interaction) error { return o.fail() }

func (o *brokenObserver) LogError(context.Context, Operation, error, string) error { return o.fail() }

func (o *brokenObserver) LogPerformance(context.Context, Operation, time.Duration, string) error {
	return o.fail()
}

func testContext(userID string) CorrelationContext {
	return CorrelationContext{
		CorrelationID: testCorrID,
		UserID:        userID,
		Username:      "name-" + userID,
		GuildID:       "guild-1",
		ChannelID:     "chan-1",
		StartTime:     time.Now(),
	}
}

func testMessageRef(id string) MessageRef {
	return MessageRef{ID: id, ChannelID: "chan-1", GuildID: "guild-1"}
}

// indexLen counts ids in the session index.
func indexLen(s *Store) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ids := range s.byUser {
		n += len(ids)
	}
	return n
}
