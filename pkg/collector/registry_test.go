package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/component-state/pkg/componentstate"
)

const (
	regTestMessage = "msg-1"
	regTestTTL     = time.Minute
)

func msg(id string) componentstate.MessageRef {
	return componentstate.MessageRef{ID: id, ChannelID: "chan-1"}
}

func TestRegistry_RegisterAndRelease(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), regTestTTL)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, 1, r.Active())

	handle, ok := h.(*Handle)
	require.True(t, ok)
	assert.Equal(t, regTestMessage, handle.MessageID())

	require.NoError(t, r.Release(ctx, h))
	assert.Equal(t, 0, r.Active())
}

func TestRegistry_ReleaseTwice(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), regTestTTL)
	require.NoError(t, err)
	require.NoError(t, r.Release(ctx, h))

	err = r.Release(ctx, h)
	require.ErrorIs(t, err, ErrHandleReleased)
	var ere *componentstate.ExternalResourceError
	require.ErrorAs(t, err, &ere)
	assert.Equal(t, "release", ere.Op)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	_, err := r.Register(ctx, msg(""), regTestTTL)
	assert.ErrorIs(t, err, ErrMissingMessage)

	_, err = r.Register(ctx, msg(regTestMessage), regTestTTL)
	require.NoError(t, err)
	_, err = r.Register(ctx, msg(regTestMessage), regTestTTL)
	assert.ErrorIs(t, err, ErrCollectorExists)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Register(canceled, msg("msg-2"), regTestTTL)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, r.Close())
	_, err = r.Register(ctx, msg("msg-3"), regTestTTL)
	assert.ErrorIs(t, err, ErrClosed)

	var ere *componentstate.ExternalResourceError
	require.ErrorAs(t, err, &ere)
	assert.Equal(t, "register", ere.Op)
	assert.Equal(t, "msg-3", ere.MessageID)
}

type otherHandle struct{}

func (otherHandle) ID() string { return "other" }

func TestRegistry_ReleaseForeignHandle(t *testing.T) {
	r := NewRegistry(Config{})
	err := r.Release(context.Background(), otherHandle{})
	assert.ErrorIs(t, err, ErrForeignHandle)

	_, ok := r.Events(otherHandle{})
	assert.False(t, ok)
}

func TestRegistry_DispatchDeliversEvents(t *testing.T) {
	r := NewRegistry(Config{BufferSize: 2})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), regTestTTL)
	require.NoError(t, err)
	events, ok := r.Events(h)
	require.True(t, ok)

	require.NoError(t, r.Dispatch(regTestMessage, Event{UserID: "u1", CustomID: "pick", Values: []string{"3"}}))
	require.NoError(t, r.Dispatch(regTestMessage, Event{UserID: "u1", CustomID: "confirm"}))
	assert.ErrorIs(t, r.Dispatch(regTestMessage, Event{CustomID: "overflow"}), ErrCollectorBusy)

	ev := <-events
	assert.Equal(t, regTestMessage, ev.MessageID)
	assert.Equal(t, "pick", ev.CustomID)
	assert.Equal(t, []string{"3"}, ev.Values)
	assert.False(t, ev.At.IsZero())

	assert.ErrorIs(t, r.Dispatch("unknown", Event{}), ErrNoCollector)

	require.NoError(t, r.Release(ctx, h))
	<-events
	_, open := <-events
	assert.False(t, open, "channel closed on release")
	assert.ErrorIs(t, r.Dispatch(regTestMessage, Event{}), ErrNoCollector)
}

func TestRegistry_Poll(t *testing.T) {
	r := NewRegistry(Config{BufferSize: 4})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), regTestTTL)
	require.NoError(t, err)

	events, open, err := r.Poll(ctx, h, 0, 0)
	require.NoError(t, err)
	assert.True(t, open)
	assert.Empty(t, events)

	require.NoError(t, r.Dispatch(regTestMessage, Event{CustomID: "one"}))
	require.NoError(t, r.Dispatch(regTestMessage, Event{CustomID: "two"}))

	events, open, err = r.Poll(ctx, h, 1, 0)
	require.NoError(t, err)
	assert.True(t, open)
	require.Len(t, events, 1)
	assert.Equal(t, "one", events[0].CustomID)

	events, _, err = r.Poll(ctx, h, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "two", events[0].CustomID)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Dispatch(regTestMessage, Event{CustomID: "three"})
	}()
	events, open, err = r.Poll(ctx, h, 0, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, open)
	require.Len(t, events, 1)
	assert.Equal(t, "three", events[0].CustomID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = r.Poll(cancelled, h, 0, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, r.Release(ctx, h))
	_, open, err = r.Poll(ctx, h, 0, 0)
	assert.ErrorIs(t, err, ErrNoCollector)
	assert.False(t, open)

	_, _, err = r.Poll(ctx, &Handle{id: "foreign"}, 0, 0)
	assert.ErrorIs(t, err, ErrNoCollector)
}

func TestRegistry_PollAfterTTL(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, r.Dispatch(regTestMessage, Event{CustomID: "before-end"}))

	events, open, err := r.Poll(ctx, h, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, open)

	events, open, err = r.Poll(ctx, h, 0, 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, open)
}

func TestRegistry_EndsAfterTTL(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	h, err := r.Register(ctx, msg(regTestMessage), 20*time.Millisecond)
	require.NoError(t, err)
	events, ok := r.Events(h)
	require.True(t, ok)

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not end after TTL")
	}

	assert.ErrorIs(t, r.Dispatch(regTestMessage, Event{}), ErrNoCollector)
	assert.Equal(t, 1, r.Active(), "ended collector keeps its handle until released")
	require.NoError(t, r.Release(ctx, h))
	assert.Equal(t, 0, r.Active())
}

func TestRegistry_CloseReleasesAll(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Register(ctx, msg(id), regTestTTL)
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Active())
	require.NoError(t, r.Close())
}

func TestRegistry_ConcurrentRegisterRelease(t *testing.T) {
	r := NewRegistry(Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Register(ctx, msg(fmt.Sprintf("msg-%d", i)), regTestTTL)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, r.Release(ctx, h))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Active())
}

func TestRegistry_WithManager(t *testing.T) {
	r := NewRegistry(Config{})
	m := componentstate.NewManager(r, componentstate.Config{})
	ctx := context.Background()
	defer func() { _ = m.Close(ctx) }()

	cc := componentstate.CorrelationContext{CorrelationID: "c1", UserID: "u1"}
	st, err := m.Create(ctx, msg(regTestMessage), cc)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Active())

	_, err = m.Create(ctx, msg(regTestMessage), cc)
	assert.ErrorIs(t, err, ErrCollectorExists)
	assert.Len(t, m.UserSessions("u1"), 1)

	require.NoError(t, m.Teardown(ctx))
	assert.Equal(t, 0, r.Active())
	_, ok := m.Get(st.ID)
	assert.False(t, ok)
}
