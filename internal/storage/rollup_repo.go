package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RollupStore defines the interface for daily rollup operations.
type RollupStore interface {
	// Apply merges one sync run's observation into the (day, source) rollup.
	// The presence flag is set idempotently and the count is merged with
	// max(stored, observed): a run usually sees only part of a day's eventual
	// total, and overwriting could regress a correct larger count. The stored
	// count is therefore monotonically non-decreasing, not an exact tally.
	Apply(ctx context.Context, day, source string, present bool, count int) error
	// ListRange returns rollups for days in [from, to] ordered by day then source.
	ListRange(ctx context.Context, from, to string) ([]*Rollup, error)
	// GetSummary returns the cached narrative for a day.
	// Returns nil and ErrNotFound if none is cached.
	GetSummary(ctx context.Context, day string) (*DailySummary, error)
	// SaveSummary caches a day's narrative, replacing any existing one.
	SaveSummary(ctx context.Context, summary *DailySummary) error
	// InvalidateSummary drops a day's cached narrative. Missing is not an error.
	InvalidateSummary(ctx context.Context, day string) error
}

// RollupRepo provides methods for daily rollup operations.
// It implements the RollupStore interface.
type RollupRepo struct {
	db *sql.DB
}

// NewRollupRepo creates a new RollupRepo.
func NewRollupRepo(db *sql.DB) *RollupRepo {
	return &RollupRepo{db: db}
}

// Apply merges one observation into the (day, source) rollup row.
// MAX() on the count keeps repeated or concurrent application monotonic.
func (r *RollupRepo) Apply(ctx context.Context, day, source string, present bool, count int) error {
	if _, err := time.Parse(DayFormat, day); err != nil {
		return fmt.Errorf("invalid day %q: %w", day, err)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO daily_rollups (day, source, has_data, record_count, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (day, source) DO UPDATE SET
		 has_data = has_data OR excluded.has_data,
		 record_count = MAX(record_count, excluded.record_count),
		 updated_at = excluded.updated_at`,
		day, source, present, count, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to apply rollup: %w", err)
	}
	return nil
}

// ListRange returns rollups for days in [from, to] ordered by day then source.
// Returns an empty slice if no rollups exist in the range (not an error).
func (r *RollupRepo) ListRange(ctx context.Context, from, to string) ([]*Rollup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT day, source, has_data, record_count, updated_at
		 FROM daily_rollups WHERE day >= ? AND day <= ? ORDER BY day, source`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var rollups []*Rollup
	for rows.Next() {
		var rollup Rollup
		var updatedAt string
		if err := rows.Scan(&rollup.Day, &rollup.Source, &rollup.HasData,
			&rollup.RecordCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		if rollup.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse rollup updated_at: %w", err)
		}
		rollups = append(rollups, &rollup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return rollups, nil
}

// GetSummary returns the cached narrative for a day.
func (r *RollupRepo) GetSummary(ctx context.Context, day string) (*DailySummary, error) {
	var summary DailySummary
	var generatedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT day, narrative, generated_at FROM daily_summaries WHERE day = ?",
		day,
	).Scan(&summary.Day, &summary.Narrative, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}

	if summary.GeneratedAt, err = parseTime(generatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse summary generated_at: %w", err)
	}
	return &summary, nil
}

// SaveSummary caches a day's narrative, replacing any existing one.
func (r *RollupRepo) SaveSummary(ctx context.Context, summary *DailySummary) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO daily_summaries (day, narrative, generated_at) VALUES (?, ?, ?)
		 ON CONFLICT (day) DO UPDATE SET
		 narrative = excluded.narrative, generated_at = excluded.generated_at`,
		summary.Day, summary.Narrative, formatTime(summary.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// InvalidateSummary drops a day's cached narrative so it is regenerated from
// fresh data on the next read.
func (r *RollupRepo) InvalidateSummary(ctx context.Context, day string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM daily_summaries WHERE day = ?", day)
	if err != nil {
		return fmt.Errorf("failed to invalidate summary: %w", err)
	}
	return nil
}
