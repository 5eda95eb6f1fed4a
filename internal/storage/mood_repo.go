package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MoodStore defines the interface for the manual mood inbox.
// Entries are staged here by the mood API handler and paged out by the mood
// source client, so manual input flows through the same sync pipeline as
// remote sources.
type MoodStore interface {
	// Insert stages a new mood entry. Generates an ID if one is not set.
	Insert(ctx context.Context, entry *MoodEntry) error
	// ListSince returns entries entered strictly after since, oldest first,
	// limited to limit rows starting at offset.
	ListSince(ctx context.Context, since time.Time, limit, offset int) ([]*MoodEntry, error)
}

// MoodRepo provides methods for mood inbox operations.
// It implements the MoodStore interface.
type MoodRepo struct {
	db *sql.DB
}

// NewMoodRepo creates a new MoodRepo.
func NewMoodRepo(db *sql.DB) *MoodRepo {
	return &MoodRepo{db: db}
}

// Insert stages a new mood entry.
func (r *MoodRepo) Insert(ctx context.Context, entry *MoodEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.EnteredAt.IsZero() {
		entry.EnteredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO mood_inbox (id, score, note, felt_at, entered_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, entry.Score, entry.Note, formatTime(entry.FeltAt), formatTime(entry.EnteredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mood entry: %w", err)
	}
	return nil
}

// ListSince returns entries entered strictly after since, oldest first.
// Returns an empty slice if none exist (not an error).
func (r *MoodRepo) ListSince(ctx context.Context, since time.Time, limit, offset int) ([]*MoodEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, score, note, felt_at, entered_at FROM mood_inbox
		 WHERE entered_at > ? ORDER BY entered_at LIMIT ? OFFSET ?`,
		formatTime(since), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query mood inbox: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []*MoodEntry
	for rows.Next() {
		var entry MoodEntry
		var feltAt, enteredAt string
		if err := rows.Scan(&entry.ID, &entry.Score, &entry.Note, &feltAt, &enteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan mood entry: %w", err)
		}
		if entry.FeltAt, err = parseTime(feltAt); err != nil {
			return nil, fmt.Errorf("failed to parse felt_at: %w", err)
		}
		if entry.EnteredAt, err = parseTime(enteredAt); err != nil {
			return nil, fmt.Errorf("failed to parse entered_at: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}
