// Package drift compares what entities expect of their tables with what the
// catalog reports for them now.
package drift

import "time"

// Severity classifies a difference.
type Severity string

const (
	// Additive differences leave every read and write of the entity working.
	Additive Severity = "additive"
	// Breaking differences make reads degrade or writes fail.
	Breaking Severity = "breaking"
)

// Categories of Item.
const (
	TableRemoved    = "table_removed"
	ColumnRemoved   = "column_removed"
	ColumnAdded     = "column_added"
	TypeChanged     = "type_changed"
	NullableChanged = "nullable_changed"
	KeyChanged      = "key_changed"
)

// Item is a single difference between a field and its live column.
type Item struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Table       string   `json:"table"`
	Field       string   `json:"field,omitempty"`
	Column      string   `json:"column,omitempty"`
	Declared    string   `json:"declared,omitempty"`
	Live        string   `json:"live,omitempty"`
	Description string   `json:"description"`
}

// Report lists the differences found for one entity.
type Report struct {
	Entity        string    `json:"entity"`
	Source        string    `json:"source,omitempty"`
	HasDrift      bool      `json:"has_drift"`
	HasBreaking   bool      `json:"has_breaking"`
	AdditiveCount int       `json:"additive_count"`
	BreakingCount int       `json:"breaking_count"`
	Items         []Item    `json:"items"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Summary aggregates the reports of several entities.
type Summary struct {
	Entities      int      `json:"entities"`
	Drifted       int      `json:"drifted"`
	BreakingCount int      `json:"breaking_count"`
	Reports       []Report `json:"reports"`
}
