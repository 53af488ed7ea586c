// Package usage tracks per-user storage consumption. The quota guard reads
// from here; upload and delete paths record deltas through the same store.
package usage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
)

// PostgresReader reads and records storage usage in PostgreSQL.
type PostgresReader struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresReader creates a new PostgresReader
func NewPostgresReader(db *sql.DB) *PostgresReader {
	return &PostgresReader{db: db, clock: clock.New()}
}

// NewPostgresReaderWithClock creates a PostgresReader with an injected clock
func NewPostgresReaderWithClock(db *sql.DB, clk clock.Clock) *PostgresReader {
	return &PostgresReader{db: db, clock: clk}
}

// CurrentUsageBytes returns the user's current storage consumption.
// A user with no usage row has consumed nothing.
func (r *PostgresReader) CurrentUsageBytes(ctx context.Context, userID int64) (int64, error) {
	query := `
		SELECT bytes_used
		FROM storage_usage
		WHERE user_id = $1
	`
	var bytes int64
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&bytes)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	return bytes, nil
}

// RecordDelta adjusts the user's storage consumption by delta bytes.
// Uploads pass a positive delta, deletions a negative one. The floor at
// zero absorbs double-counted deletions.
func (r *PostgresReader) RecordDelta(ctx context.Context, userID int64, delta int64) error {
	query := `
		INSERT INTO storage_usage (user_id, bytes_used, updated_at)
		VALUES ($1, GREATEST($2, 0), $3)
		ON CONFLICT (user_id) DO UPDATE SET
			bytes_used = GREATEST(storage_usage.bytes_used + $2, 0),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, userID, delta, r.clock.Now()); err != nil {
		return fmt.Errorf("failed to record storage delta: %w", err)
	}
	return nil
}
