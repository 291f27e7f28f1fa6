package store

import "context"

// Keys persisted by the shade reconciler.
const (
	// KeyPosition holds the last known position as a decimal string.
	KeyPosition = "aperturaPersiana"

	// KeyPresets holds the preset list as a JSON array.
	KeyPresets = "presetsPersiana"
)

// KV is a durable string key/value store.
//
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value for key. The bool is false when the key has
	// never been set.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}
