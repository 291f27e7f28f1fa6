package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryHistory implements History in memory, keeping at most the
// maximum history limit of entries.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []PositionEntry
	nextID  int64
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Record appends a position entry, discarding the oldest beyond capacity.
func (m *MemoryHistory) Record(_ context.Context, position int, source string) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	if source == "" {
		source = SourceState
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries = append(m.entries, PositionEntry{
		ID:        m.nextID,
		Position:  position,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	})
	if len(m.entries) > maxHistoryLimit {
		m.entries = m.entries[len(m.entries)-maxHistoryLimit:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryHistory) Recent(_ context.Context, limit int) ([]PositionEntry, error) {
	limit = clampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PositionEntry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
