// Package audit records the lifecycle of interactive components to a
// durable audit trail.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves audit events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases resources.
	Close() error
}

// Event represents one auditable component observation.
type Event struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	EventType        EventType `json:"event_type"`
	Kind             string    `json:"kind,omitempty"`
	Operation        string    `json:"operation,omitempty"`
	ComponentID      string    `json:"component_id,omitempty"`
	CorrelationID    string    `json:"correlation_id,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	Username         string    `json:"username,omitempty"`
	GuildID          string    `json:"guild_id,omitempty"`
	ChannelID        string    `json:"channel_id,omitempty"`
	InteractionCount int       `json:"interaction_count"`
	DataKeys         []string  `json:"data_keys,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	DurationMS       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	ID            string
	StartTime     *time.Time
	EndTime       *time.Time
	EventType     EventType
	ComponentID   string
	CorrelationID string
	UserID        string
	Operation     string
	Success       *bool
	Limit         int
	Offset        int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	RetentionDays int
}
