package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WatermarkStore defines the interface for per-source sync watermarks.
// The watermark is the instant through which a source's data is known to be
// fully synced. It only ever moves forward.
type WatermarkStore interface {
	// Get returns the source's watermark, or the zero instant if the source
	// has never completed a sync (the next fetch window is then "everything").
	Get(ctx context.Context, source string) (time.Time, error)
	// Advance moves the watermark forward to the given instant. A call with
	// an instant at or before the current watermark is a no-op; the watermark
	// is monotonic.
	Advance(ctx context.Context, source string, through time.Time) error
}

// WatermarkRepo provides methods for sync watermark operations.
// It implements the WatermarkStore interface. Only the sync engine calls
// Advance, and only after a batch has fully persisted.
type WatermarkRepo struct {
	db *sql.DB
}

// NewWatermarkRepo creates a new WatermarkRepo.
func NewWatermarkRepo(db *sql.DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

// Get returns the source's watermark, or the zero instant if none exists.
func (r *WatermarkRepo) Get(ctx context.Context, source string) (time.Time, error) {
	var through string
	err := r.db.QueryRowContext(ctx,
		"SELECT synced_through FROM sync_watermarks WHERE source = ?",
		source,
	).Scan(&through)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query watermark: %w", err)
	}

	t, err := parseTime(through)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark: %w", err)
	}
	return t, nil
}

// Advance moves the watermark forward, never backward. The guard lives in the
// UPDATE's WHERE clause so concurrent advances cannot regress the value.
func (r *WatermarkRepo) Advance(ctx context.Context, source string, through time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_watermarks (source, synced_through) VALUES (?, ?)
		 ON CONFLICT (source) DO UPDATE SET synced_through = excluded.synced_through
		 WHERE excluded.synced_through > sync_watermarks.synced_through`,
		source, formatTime(through),
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}
