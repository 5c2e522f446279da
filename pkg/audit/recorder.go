package audit

import (
	"context"
	"time"

	"github.com/txn2/component-state/pkg/componentstate"
)

// Recorder turns component observations into audit events.
type Recorder struct {
	logger Logger
}

// NewRecorder creates a Recorder writing to logger.
func NewRecorder(logger Logger) *Recorder {
	return &Recorder{logger: logger}
}

// LogComponentInteraction records a lifecycle event.
func (r *Recorder) LogComponentInteraction(ctx context.Context, in componentstate.Interaction) error {
	event := NewEvent(EventTypeInteraction).
		WithTimestamp(in.Timestamp).
		WithComponent(in.ComponentID, string(in.Kind), in.InteractionCount).
		WithUser(in.UserID, in.Username).
		WithLocation(in.GuildID, in.ChannelID).
		WithCorrelationID(in.CorrelationID).
		WithDataKeys(in.DataKeys).
		WithReason(in.Reason)
	return r.logger.Log(ctx, *event)
}

// LogError records a failed operation.
func (r *Recorder) LogError(ctx context.Context, op componentstate.Operation, err error, correlationID string) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	event := NewEvent(EventTypeError).
		WithOperation(string(op)).
		WithCorrelationID(correlationID).
		WithResult(false, msg, 0)
	return r.logger.Log(ctx, *event)
}

// LogPerformance records an operation timing.
func (r *Recorder) LogPerformance(ctx context.Context, op componentstate.Operation, d time.Duration, correlationID string) error {
	event := NewEvent(EventTypePerformance).
		WithOperation(string(op)).
		WithCorrelationID(correlationID).
		WithResult(true, "", d.Milliseconds())
	return r.logger.Log(ctx, *event)
}

// Verify interface compliance.
var _ componentstate.Observer = (*Recorder)(nil)
