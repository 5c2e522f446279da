package audit

import "time"

// BreakdownDimension defines valid group-by dimensions.
type BreakdownDimension string

const (
	// BreakdownByKind groups by interaction kind.
	BreakdownByKind BreakdownDimension = "kind"

	// BreakdownByOperation groups by operation.
	BreakdownByOperation BreakdownDimension = "operation"

	// BreakdownByUserID groups by user ID.
	BreakdownByUserID BreakdownDimension = "user_id"

	// BreakdownByGuildID groups by guild.
	BreakdownByGuildID BreakdownDimension = "guild_id"
)

// ValidBreakdownDimensions is the set of allowed group-by values.
var ValidBreakdownDimensions = map[BreakdownDimension]bool{
	BreakdownByKind:      true,
	BreakdownByOperation: true,
	BreakdownByUserID:    true,
	BreakdownByGuildID:   true,
}

// BreakdownFilter controls breakdown query parameters.
type BreakdownFilter struct {
	GroupBy   BreakdownDimension
	EventType EventType
	Limit     int
	StartTime *time.Time
	EndTime   *time.Time
}

// BreakdownEntry holds aggregated stats for a single dimension value.
type BreakdownEntry struct {
	Dimension     string  `json:"dimension"`
	Count         int     `json:"count"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Overview holds aggregate counts over the audit trail.
type Overview struct {
	TotalEvents      int     `json:"total_events"`
	Interactions     int     `json:"interactions"`
	Errors           int     `json:"errors"`
	UniqueUsers      int     `json:"unique_users"`
	UniqueComponents int     `json:"unique_components"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
}
