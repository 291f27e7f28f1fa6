package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteHistory implements History using the position_history table.
type SQLiteHistory struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistory creates a new SQLite position history repository.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteHistory: Repository instance ready for use
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db, now: time.Now}
}

// Record inserts a position entry.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - position: Position percentage (0..100)
//   - source: Origin of the position (state, position, echo, optimistic)
//
// Returns:
//   - error: ErrInvalidPosition for out-of-range values, otherwise the database error
func (r *SQLiteHistory) Record(ctx context.Context, position int, source string) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	if source == "" {
		source = SourceState
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO position_history (position, source, created_at) VALUES (?, ?, ?)",
		position,
		source,
		r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting position history: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (r *SQLiteHistory) Recent(ctx context.Context, limit int) ([]PositionEntry, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, position, source, created_at
		 FROM position_history
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying position history: %w", err)
	}
	defer rows.Close()

	entries := make([]PositionEntry, 0, limit)
	for rows.Next() {
		var entry PositionEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.Position, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning position history: %w", err)
		}
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating position history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	result, err := r.db.ExecContext(ctx, "DELETE FROM position_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting position history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
