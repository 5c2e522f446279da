package audit

import (
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTypeInteraction)

	if event.ID == "" {
		t.Error("expected non-empty ID")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if event.EventType != EventTypeInteraction {
		t.Errorf("EventType = %q, want %q", event.EventType, EventTypeInteraction)
	}
	if !event.Success {
		t.Error("expected Success to default to true")
	}
}

func TestEventBuilders(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := NewEvent(EventTypeInteraction).
		WithComponent("comp-1", "updated", 4).
		WithUser("user-1", "ada").
		WithLocation("guild-1", "chan-1").
		WithCorrelationID("corr-1").
		WithOperation("update").
		WithDataKeys([]string{"page"}).
		WithReason("scheduled").
		WithResult(false, "boom", 12).
		WithTimestamp(ts)

	if event.ComponentID != "comp-1" || event.Kind != "updated" || event.InteractionCount != 4 {
		t.Errorf("component fields not set: %+v", event)
	}
	if event.UserID != "user-1" || event.Username != "ada" {
		t.Errorf("user fields not set: %+v", event)
	}
	if event.GuildID != "guild-1" || event.ChannelID != "chan-1" {
		t.Errorf("location fields not set: %+v", event)
	}
	if event.CorrelationID != "corr-1" || event.Operation != "update" || event.Reason != "scheduled" {
		t.Errorf("context fields not set: %+v", event)
	}
	if len(event.DataKeys) != 1 || event.DataKeys[0] != "page" {
		t.Errorf("DataKeys = %v", event.DataKeys)
	}
	if event.Success || event.ErrorMessage != "boom" || event.DurationMS != 12 {
		t.Errorf("result fields not set: %+v", event)
	}
	if !event.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, ts)
	}
}

func TestWithTimestampIgnoresZero(t *testing.T) {
	event := NewEvent(EventTypeError)
	before := event.Timestamp
	event.WithTimestamp(time.Time{})
	if !event.Timestamp.Equal(before) {
		t.Error("zero timestamp must not override")
	}
}
