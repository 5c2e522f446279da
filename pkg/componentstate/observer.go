package componentstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Operation names a public manager operation for observability.
type Operation string

// Operations reported to observers.
const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpCleanup  Operation = "cleanup"
	OpTeardown Operation = "teardown"
)

// InteractionKind classifies a component lifecycle event.
type InteractionKind string

// Interaction kinds.
const (
	InteractionCreated  InteractionKind = "created"
	InteractionUpdated  InteractionKind = "updated"
	InteractionEvicted  InteractionKind = "evicted"
	InteractionTornDown InteractionKind = "torn_down"
)

// Interaction describes one lifecycle event of a component.
type Interaction struct {
	Kind             InteractionKind
	ComponentID      string
	CorrelationID    string
	UserID           string
	Username         string
	GuildID          string
	ChannelID        string
	InteractionCount int
	DataKeys         []string
	Reason           string
	Timestamp        time.Time
}

// Observer receives best-effort logging, error and timing events. Any
// error or panic from an Observer is contained by the manager.
type Observer interface {
	LogComponentInteraction(ctx context.Context, in Interaction) error
	LogError(ctx context.Context, op Operation, err error, correlationID string) error
	LogPerformance(ctx context.Context, op Operation, d time.Duration, correlationID string) error
}

// MultiObserver fans every call out to all of its observers.
type MultiObserver []Observer

// LogComponentInteraction forwards to every observer.
func (m MultiObserver) LogComponentInteraction(ctx context.Context, in Interaction) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.LogComponentInteraction(ctx, in))
	}
	return errors.Join(errs...)
}

// LogError forwards to every observer.
func (m MultiObserver) LogError(ctx context.Context, op Operation, err error, correlationID string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.LogError(ctx, op, err, correlationID))
	}
	return errors.Join(errs...)
}

// LogPerformance forwards to every observer.
func (m MultiObserver) LogPerformance(ctx context.Context, op Operation, d time.Duration, correlationID string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.LogPerformance(ctx, op, d, correlationID))
	}
	return errors.Join(errs...)
}

// LogObserver writes observations to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// LogComponentInteraction logs the interaction at debug level.
func (o *LogObserver) LogComponentInteraction(ctx context.Context, in Interaction) error {
	o.logger().DebugContext(ctx, "componentstate: interaction",
		"kind", string(in.Kind),
		"component_id", in.ComponentID,
		"correlation_id", in.CorrelationID,
		"user_id", in.UserID,
		"interaction_count", in.InteractionCount,
		"reason", in.Reason,
	)
	return nil
}

// LogError logs the failure at warn level.
func (o *LogObserver) LogError(ctx context.Context, op Operation, err error, correlationID string) error {
	o.logger().WarnContext(ctx, "componentstate: operation failed",
		"operation", string(op), "correlation_id", correlationID, "error", err)
	return nil
}

// LogPerformance logs the duration at debug level.
func (o *LogObserver) LogPerformance(ctx context.Context, op Operation, d time.Duration, correlationID string) error {
	o.logger().DebugContext(ctx, "componentstate: operation timing",
		"operation", string(op), "correlation_id", correlationID, "duration_ms", d.Milliseconds())
	return nil
}

const defaultObserverQueueSize = 256

// bridge delivers observations to an Observer on its own goroutine so the
// primary control flow never waits on, or sees failures from, the sink.
type bridge struct {
	obs   Observer
	queue chan func(Observer) error

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	failures atomic.Uint64
	dropped  atomic.Uint64
}

func newBridge(obs Observer, size int) *bridge {
	if size <= 0 {
		size = defaultObserverQueueSize
	}
	b := &bridge{
		obs:   obs,
		queue: make(chan func(Observer) error, size),
		done:  make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bridge) run() {
	defer close(b.done)
	for call := range b.queue {
		b.deliver(call)
	}
}

// deliver invokes call and reports any error or panic on the diagnostic
// path.
func (b *bridge) deliver(call func(Observer) error) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			slog.Warn("componentstate: observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := call(b.obs); err != nil {
		b.failures.Add(1)
		slog.Warn("componentstate: observer failed", "error", err)
	}
}

// emit queues call without blocking. Observations are dropped when the
// queue is full or the bridge is closed.
func (b *bridge) emit(call func(Observer) error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.queue <- call:
	default:
		b.dropped.Add(1)
	}
}

func (b *bridge) interaction(ctx context.Context, in Interaction) {
	ctx = context.WithoutCancel(ctx)
	b.emit(func(o Observer) error { return o.LogComponentInteraction(ctx, in) })
}

func (b *bridge) failure(ctx context.Context, op Operation, err error, correlationID string) {
	ctx = context.WithoutCancel(ctx)
	b.emit(func(o Observer) error { return o.LogError(ctx, op, err, correlationID) })
}

func (b *bridge) performance(ctx context.Context, op Operation, d time.Duration, correlationID string) {
	ctx = context.WithoutCancel(ctx)
	b.emit(func(o Observer) error { return o.LogPerformance(ctx, op, d, correlationID) })
}

// close stops accepting observations and waits until queued ones have
// been delivered or ctx is done.
func (b *bridge) close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining observer queue: %w", ctx.Err())
	}
}

// Verify interface compliance.
var (
	_ Observer = (*LogObserver)(nil)
	_ Observer = MultiObserver(nil)
)
