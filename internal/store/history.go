package store

import (
	"context"
	"time"
)

// Position history source values.
const (
	SourceState      = "state"
	SourcePosition   = "position"
	SourceEcho       = "echo"
	SourceOptimistic = "optimistic"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// PositionEntry is a single recorded shade position.
type PositionEntry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// Position is the clamped percentage, 0..100.
	Position int `json:"position"`

	// Source identifies what produced the position (state, position, echo, optimistic).
	Source string `json:"source"`

	// CreatedAt is when the position was accepted (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// History stores and retrieves position history.
//
// Implementations must be thread-safe and use UTC timestamps.
type History interface {
	// Record appends a position entry.
	Record(ctx context.Context, position int, source string) error

	// Recent returns up to limit entries, newest first. Non-positive
	// limits use the default of 50; limits above 200 are clamped.
	Recent(ctx context.Context, limit int) ([]PositionEntry, error)
}

// clampLimit applies the default and maximum history limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
