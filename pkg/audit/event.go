package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventTypeInteraction is a component lifecycle event.
	EventTypeInteraction EventType = "interaction"

	// EventTypeError is a failed component operation.
	EventTypeError EventType = "error"

	// EventTypePerformance is an operation timing.
	EventTypePerformance EventType = "performance"
)

// NewEvent creates a new audit event.
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		EventType: eventType,
		Success:   true,
	}
}

// WithComponent adds the component identity to the event.
func (e *Event) WithComponent(componentID, kind string, interactionCount int) *Event {
	e.ComponentID = componentID
	e.Kind = kind
	e.InteractionCount = interactionCount
	return e
}

// WithUser adds owner information to the event.
func (e *Event) WithUser(userID, username string) *Event {
	e.UserID = userID
	e.Username = username
	return e
}

// WithLocation adds guild and channel to the event.
func (e *Event) WithLocation(guildID, channelID string) *Event {
	e.GuildID = guildID
	e.ChannelID = channelID
	return e
}

// WithCorrelationID adds the tracing token to the event.
func (e *Event) WithCorrelationID(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithOperation adds the operation name to the event.
func (e *Event) WithOperation(op string) *Event {
	e.Operation = op
	return e
}

// WithDataKeys records which data keys were touched. Values are never
// audited.
func (e *Event) WithDataKeys(keys []string) *Event {
	e.DataKeys = keys
	return e
}

// WithReason adds the cleanup reason to the event.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// WithTimestamp overrides the event time.
func (e *Event) WithTimestamp(ts time.Time) *Event {
	if !ts.IsZero() {
		e.Timestamp = ts
	}
	return e
}
