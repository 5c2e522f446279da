// Package componentstate tracks the server-side state of multi-step
// interactive chat workflows. Each workflow is bound to a platform-side
// interaction collector, indexed by owning user, mutated by shallow-merge
// updates and evicted once its TTL has elapsed.
package componentstate

import (
	"context"
	"time"
)

// DefaultTTL is the lifetime of a component when Create is not given one.
const DefaultTTL = 15 * time.Minute

// DefaultCleanupInterval is the sweeper period used when StartCleanup is
// given a non-positive interval.
const DefaultCleanupInterval = time.Minute

// Lifecycle is the lifecycle tag of a tracked component. A removed
// component is not represented; it is simply absent from the store.
type Lifecycle string

// StateActive marks a component that accepts updates.
const StateActive Lifecycle = "ACTIVE"

// MessageRef identifies the chat message a collector is attached to.
type MessageRef struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// CorrelationContext carries the identity and tracing fields supplied by
// the handler that starts a workflow.
type CorrelationContext struct {
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	GuildID       string    `json:"guild_id"`
	ChannelID     string    `json:"channel_id"`
	StartTime     time.Time `json:"start_time"`
}

// CollectorHandle is the opaque resource returned by a Collector.
type CollectorHandle interface {
	ID() string
}

// Collector registers and releases the platform-side interaction collector
// for a message.
type Collector interface {
	// Register attaches a collector to msg that lives for ttl.
	Register(ctx context.Context, msg MessageRef, ttl time.Duration) (CollectorHandle, error)

	// Release detaches a collector. Callers treat failures as best-effort.
	Release(ctx context.Context, h CollectorHandle) error
}

// ComponentState is one active workflow instance.
type ComponentState struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	Username      string `json:"username,omitempty"`
	GuildID       string `json:"guild_id,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`

	State            Lifecycle `json:"state"`
	Data             Data      `json:"data"`
	InteractionCount int       `json:"interaction_count"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Collector is owned by this component and released exactly once.
	Collector CollectorHandle `json:"-"`
}

// Expired reports whether the component is due for eviction at now.
func (s *ComponentState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// clone returns a copy that shares no mutable memory with s.
func (s *ComponentState) clone() ComponentState {
	cp := *s
	cp.Data = s.Data.Clone()
	return cp
}

// Metrics is a point-in-time snapshot of cumulative activity.
type Metrics struct {
	TotalComponentsCreated int64 `json:"total_components_created"`
	TotalInteractions      int64 `json:"total_interactions"`
}

// createOptions holds per-call Create settings.
type createOptions struct {
	ttl time.Duration
}

// CreateOption configures a single Create call.
type CreateOption func(*createOptions)

// WithTTL overrides the manager's default TTL for one component.
// Non-positive values are ignored.
func WithTTL(ttl time.Duration) CreateOption {
	return func(o *createOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}
