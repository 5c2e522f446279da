package componentstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/txn2/component-state/pkg/componentstate"

// Cleanup reasons used by the manager itself.
const (
	CleanupReasonScheduled = "scheduled"
	CleanupReasonManual    = "manual"
)

// Span attribute keys.
var (
	attrComponentID   = attribute.Key("component.id")
	attrUserID        = attribute.Key("component.user_id")
	attrCorrelationID = attribute.Key("component.correlation_id")
	attrReason        = attribute.Key("component.cleanup_reason")
	attrEvicted       = attribute.Key("component.evicted")
)

// Config configures a Manager.
type Config struct {
	// DefaultTTL applies when Create is not given WithTTL. Zero means
	// DefaultTTL.
	DefaultTTL time.Duration

	// Observer receives best-effort interaction, error and timing events.
	// Nil means a LogObserver on slog.Default().
	Observer Observer

	// ObserverQueueSize bounds the number of undelivered observations.
	ObserverQueueSize int

	// TracerProvider supplies the tracer. Nil means the global provider.
	TracerProvider trace.TracerProvider

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	// NewID generates component ids. Nil means random UUIDs.
	NewID func() string
}

// Manager owns the component store and drives the lifecycle of every
// component: creation bound to a collector, merge updates, TTL eviction
// and teardown. It is safe for concurrent use.
type Manager struct {
	store     *Store
	collector Collector
	bridge    *bridge
	tracer    trace.Tracer
	ttl       time.Duration
	now       func() time.Time
	newID     func() string

	created      atomic.Int64
	interactions atomic.Int64

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a manager that registers collectors through c.
func NewManager(c Collector, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Observer == nil {
		cfg.Observer = &LogObserver{}
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Manager{
		store:     NewStore(),
		collector: c,
		bridge:    newBridge(cfg.Observer, cfg.ObserverQueueSize),
		tracer:    cfg.TracerProvider.Tracer(tracerName),
		ttl:       cfg.DefaultTTL,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
}

// Create registers a collector for msg and, only once that succeeds,
// starts tracking a new component owned by cc.UserID. A registration
// error is returned exactly as the collector produced it and leaves no
// state behind.
func (m *Manager) Create(ctx context.Context, msg MessageRef, cc CorrelationContext, opts ...CreateOption) (ComponentState, error) {
	ctx, span := m.tracer.Start(ctx, "componentstate.create",
		trace.WithAttributes(attrUserID.String(cc.UserID), attrCorrelationID.String(cc.CorrelationID)))
	defer span.End()
	start := m.now()

	if cc.CorrelationID == "" || cc.UserID == "" {
		err := fmt.Errorf("%w: correlation id and user id are required", ErrInvalidContext)
		m.fail(ctx, span, OpCreate, err, cc.CorrelationID)
		return ComponentState{}, err
	}

	o := createOptions{ttl: m.ttl}
	for _, opt := range opts {
		opt(&o)
	}

	handle, err := m.collector.Register(ctx, msg, o.ttl)
	if err != nil {
		m.fail(ctx, span, OpCreate, err, cc.CorrelationID)
		return ComponentState{}, err //nolint:wrapcheck // collector errors pass through unchanged
	}

	now := m.now()
	st := &ComponentState{
		ID:            m.newID(),
		CorrelationID: cc.CorrelationID,
		UserID:        cc.UserID,
		Username:      cc.Username,
		GuildID:       cc.GuildID,
		ChannelID:     cc.ChannelID,
		State:         StateActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(o.ttl),
		Collector:     handle,
	}
	if err := m.store.Insert(st); err != nil {
		_ = m.release(ctx, st, OpCreate)
		m.fail(ctx, span, OpCreate, err, cc.CorrelationID)
		return ComponentState{}, fmt.Errorf("inserting component %s: %w", st.ID, err)
	}
	m.created.Add(1)

	out := st.clone()
	span.SetAttributes(attrComponentID.String(out.ID))
	span.SetStatus(codes.Ok, "")
	m.bridge.interaction(ctx, interactionOf(&out, InteractionCreated, "", now))
	m.bridge.performance(ctx, OpCreate, m.now().Sub(start), cc.CorrelationID)
	return out, nil
}

// Update shallow-merges partial into the component's data and bumps its
// interaction count. The existence check and the mutation happen as one
// atomic step; an absent id yields a *NotFoundError and nothing changes.
// correlationID is used for tracing only.
func (m *Manager) Update(ctx context.Context, id string, partial Data, correlationID string) (ComponentState, error) {
	return m.update(ctx, id, partial, correlationID, nil)
}

// UpdateForUser is Update restricted to the component's owner. A
// component owned by someone else yields ErrNotOwner and is not changed.
func (m *Manager) UpdateForUser(ctx context.Context, userID, id string, partial Data, correlationID string) (ComponentState, error) {
	return m.update(ctx, id, partial, correlationID, func(st *ComponentState) error {
		if st.UserID != userID {
			return fmt.Errorf("%w: component %s", ErrNotOwner, id)
		}
		return nil
	})
}

func (m *Manager) update(ctx context.Context, id string, partial Data, correlationID string, check func(*ComponentState) error) (ComponentState, error) {
	ctx, span := m.tracer.Start(ctx, "componentstate.update",
		trace.WithAttributes(attrComponentID.String(id), attrCorrelationID.String(correlationID)))
	defer span.End()
	start := m.now()

	out, err := m.store.Mutate(id, func(st *ComponentState) error {
		if check != nil {
			if err := check(st); err != nil {
				return err
			}
		}
		st.Data.Merge(partial)
		st.InteractionCount++
		return nil
	})
	if err != nil {
		m.fail(ctx, span, OpUpdate, err, correlationID)
		return ComponentState{}, err
	}
	m.interactions.Add(1)

	span.SetAttributes(attrUserID.String(out.UserID))
	span.SetStatus(codes.Ok, "")
	in := interactionOf(&out, InteractionUpdated, "", m.now())
	in.CorrelationID = correlationID
	in.DataKeys = partial.Keys()
	m.bridge.interaction(ctx, in)
	m.bridge.performance(ctx, OpUpdate, m.now().Sub(start), correlationID)
	return out, nil
}

// Get returns a copy of the component with the given id.
func (m *Manager) Get(id string) (ComponentState, bool) {
	return m.store.Get(id)
}

// UserSessions returns every live component owned by userID.
func (m *Manager) UserSessions(userID string) []ComponentState {
	return m.store.ByUser(userID)
}

// ActiveCount returns the number of live components.
func (m *Manager) ActiveCount() int {
	return m.store.Len()
}

// Metrics returns a snapshot of the cumulative counters.
func (m *Manager) Metrics() Metrics {
	return Metrics{
		TotalComponentsCreated: m.created.Load(),
		TotalInteractions:      m.interactions.Load(),
	}
}

// PerformCleanup evicts every component whose expiry has been reached
// and releases its collector. reason is reported to observers only and
// does not influence which components are evicted. It returns the number
// of evicted components.
func (m *Manager) PerformCleanup(ctx context.Context, reason string) int {
	ctx, span := m.tracer.Start(ctx, "componentstate.cleanup",
		trace.WithAttributes(attrReason.String(reason)))
	defer span.End()
	start := m.now()

	now := m.now()
	evicted := m.store.RemoveExpired(now)
	for _, st := range evicted {
		_ = m.release(ctx, st, OpCleanup)
		m.bridge.interaction(ctx, interactionOf(st, InteractionEvicted, reason, now))
	}

	if len(evicted) > 0 {
		slog.Debug("componentstate: cleanup evicted components", "count", len(evicted), "reason", reason)
	}
	span.SetAttributes(attrEvicted.Int(len(evicted)))
	span.SetStatus(codes.Ok, "")
	m.bridge.performance(ctx, OpCleanup, m.now().Sub(start), "")
	return len(evicted)
}

// StartCleanup runs PerformCleanup every interval until StopCleanup,
// Teardown or Close is called. Calling it while a sweeper is running has
// no effect. A non-positive interval means DefaultCleanupInterval.
func (m *Manager) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PerformCleanup(context.WithoutCancel(ctx), CleanupReasonScheduled)
			}
		}
	}(m.done)
}

// StopCleanup stops the periodic sweeper and waits for it to exit. It is
// safe to call when no sweeper is running.
func (m *Manager) StopCleanup() {
	m.sweepMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.sweepMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Teardown stops the sweeper, releases every remaining collector and
// empties the store. Individual release failures do not stop the drain;
// they are logged and returned joined. Teardown on an empty manager is a
// no-op.
func (m *Manager) Teardown(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "componentstate.teardown")
	defer span.End()
	start := m.now()

	m.StopCleanup()

	now := m.now()
	var errs []error
	for _, st := range m.store.Clear() {
		if err := m.release(ctx, st, OpTeardown); err != nil {
			errs = append(errs, err)
		}
		m.bridge.interaction(ctx, interactionOf(st, InteractionTornDown, "teardown", now))
	}

	err := errors.Join(errs...)
	if err != nil {
		slog.Warn("componentstate: teardown released with failures", "failures", len(errs), "error", err)
		span.RecordError(err)
	}
	m.bridge.performance(ctx, OpTeardown, m.now().Sub(start), "")
	return err
}

// Close tears the manager down and waits for pending observations to be
// delivered. The manager must not be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	teardownErr := m.Teardown(ctx)
	if err := m.bridge.close(ctx); err != nil {
		return err
	}
	if teardownErr != nil {
		return fmt.Errorf("tearing down components: %w", teardownErr)
	}
	return nil
}

// release frees the collector owned by st. Failures are reported but
// never propagated to the operation that triggered the release.
func (m *Manager) release(ctx context.Context, st *ComponentState, op Operation) error {
	if st.Collector == nil {
		return nil
	}
	if err := m.collector.Release(ctx, st.Collector); err != nil {
		err = fmt.Errorf("releasing collector for component %s: %w", st.ID, err)
		slog.Warn("componentstate: collector release failed",
			"component_id", st.ID, "operation", string(op), "error", err)
		m.bridge.failure(ctx, op, err, st.CorrelationID)
		return err
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, span trace.Span, op Operation, err error, correlationID string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.bridge.failure(ctx, op, err, correlationID)
}

func interactionOf(st *ComponentState, kind InteractionKind, reason string, at time.Time) Interaction {
	return Interaction{
		Kind:             kind,
		ComponentID:      st.ID,
		CorrelationID:    st.CorrelationID,
		UserID:           st.UserID,
		Username:         st.Username,
		GuildID:          st.GuildID,
		ChannelID:        st.ChannelID,
		InteractionCount: st.InteractionCount,
		DataKeys:         st.Data.Keys(),
		Reason:           reason,
		Timestamp:        at,
	}
}
