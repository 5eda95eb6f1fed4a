package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// UpsertOutcome reports whether an upsert inserted a new row or updated an
// existing one. This is the only signal available for new-vs-updated counts in
// sync results, so repos must report it accurately.
type UpsertOutcome int

const (
	// OutcomeInserted means the upsert created a new row.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeUpdated means the upsert overwrote an existing row's mutable fields.
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	if o == OutcomeInserted {
		return "inserted"
	}
	return "updated"
}

// RecordStore defines the interface for record storage operations.
type RecordStore interface {
	// GetByKey gets a record by its (source, kind, external id) conflict key.
	// Returns nil and ErrNotFound if not found.
	GetByKey(ctx context.Context, source, kind, externalID string) (*Record, error)
	// Upsert inserts a new record or updates an existing one keyed on
	// (source, kind, external_id), reporting which outcome occurred.
	Upsert(ctx context.Context, rec *Record) (UpsertOutcome, error)
	// ListByDay returns all records whose primary instant falls on the given
	// UTC calendar day, ordered by occurred_at.
	ListByDay(ctx context.Context, day string) ([]*Record, error)
	// CountBySourceAndDay counts a source's records on the given UTC day.
	CountBySourceAndDay(ctx context.Context, source, day string) (int, error)
}

// RecordRepo provides methods for record operations.
// It implements the RecordStore interface.
type RecordRepo struct {
	db *sql.DB
}

// NewRecordRepo creates a new RecordRepo.
func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// GetByKey gets a record by its (source, kind, external id) conflict key.
// Returns nil and ErrNotFound if not found.
func (r *RecordRepo) GetByKey(ctx context.Context, source, kind, externalID string) (*Record, error) {
	return scanRecord(r.db.QueryRowContext(ctx,
		`SELECT id, source, kind, external_id, title, body, occurred_at, occurred_end,
		        last_modified_at, payload, created_at, updated_at
		 FROM records WHERE source = ? AND kind = ? AND external_id = ?`,
		source, kind, externalID,
	))
}

// Upsert inserts a new record or updates an existing one.
// If the record doesn't exist (by source, kind, external_id), generates a new
// UUID. If it exists, updates the mutable fields and bumps updated_at while
// preserving the ID. The check and the write run in one transaction so the
// reported outcome matches what actually happened in the store.
func (r *RecordRepo) Upsert(ctx context.Context, rec *Record) (UpsertOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeInserted, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT id, source, kind, external_id, title, body, occurred_at, occurred_end,
		        last_modified_at, payload, created_at, updated_at
		 FROM records WHERE source = ? AND kind = ? AND external_id = ?`,
		rec.Source, rec.Kind, rec.ExternalID,
	))
	if err != nil && err != ErrNotFound {
		return OutcomeInserted, fmt.Errorf("failed to check existing record: %w", err)
	}

	outcome := OutcomeInserted
	now := time.Now().UTC()
	if existing != nil {
		// Preserve existing ID
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		outcome = OutcomeUpdated
	} else {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	// Use SQLite INSERT ... ON CONFLICT syntax for upsert
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, source, kind, external_id, title, body, occurred_at,
		                      occurred_end, last_modified_at, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, kind, external_id) DO UPDATE SET
		 title = excluded.title, body = excluded.body,
		 occurred_at = excluded.occurred_at, occurred_end = excluded.occurred_end,
		 last_modified_at = excluded.last_modified_at, payload = excluded.payload,
		 updated_at = excluded.updated_at`,
		rec.ID, rec.Source, rec.Kind, rec.ExternalID, rec.Title, rec.Body,
		formatTime(rec.OccurredAt), nullTime(rec.OccurredEnd), nullTime(rec.LastModifiedAt),
		rec.Payload, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return outcome, fmt.Errorf("failed to upsert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("failed to commit upsert: %w", err)
	}

	return outcome, nil
}

// ListByDay returns all records whose primary instant falls on the given UTC
// calendar day, ordered by occurred_at. Returns an empty slice if none exist.
func (r *RecordRepo) ListByDay(ctx context.Context, day string) ([]*Record, error) {
	start, end, err := dayBounds(day)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, kind, external_id, title, body, occurred_at, occurred_end,
		        last_modified_at, payload, created_at, updated_at
		 FROM records WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by day: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// CountBySourceAndDay counts a source's records on the given UTC day.
func (r *RecordRepo) CountBySourceAndDay(ctx context.Context, source, day string) (int, error) {
	start, end, err := dayBounds(day)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE source = ? AND occurred_at >= ? AND occurred_at < ?",
		source, start, end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// dayBounds returns the stored-timestamp bounds [start, end) for a day key.
func dayBounds(day string) (string, string, error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return "", "", fmt.Errorf("invalid day %q: %w", day, err)
	}
	return formatTime(t), formatTime(t.AddDate(0, 0, 1)), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var occurredAt, createdAt, updatedAt string
	var occurredEnd, lastModified sql.NullString

	err := row.Scan(&rec.ID, &rec.Source, &rec.Kind, &rec.ExternalID, &rec.Title, &rec.Body,
		&occurredAt, &occurredEnd, &lastModified, &rec.Payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if rec.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, fmt.Errorf("failed to parse occurred_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if rec.OccurredEnd, err = parseNullTime(occurredEnd); err != nil {
		return nil, fmt.Errorf("failed to parse occurred_end: %w", err)
	}
	if rec.LastModifiedAt, err = parseNullTime(lastModified); err != nil {
		return nil, fmt.Errorf("failed to parse last_modified_at: %w", err)
	}

	return &rec, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
