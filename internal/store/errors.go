package store

import "errors"

// Domain-specific errors for store operations.
var (
	// ErrKeyRequired is returned when an empty key is used.
	ErrKeyRequired = errors.New("store: key is required")

	// ErrInvalidPosition is returned when a history entry is outside 0..100.
	ErrInvalidPosition = errors.New("store: position out of range")
)
