package storage

import (
	"context"
	"testing"
	"time"
)

func TestMoodRepo_InsertAssignsDefaults(t *testing.T) {
	repo := NewMoodRepo(testDB(t))
	ctx := context.Background()

	entry := &MoodEntry{
		Score:  7,
		Note:   "good walk",
		FeltAt: time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC),
	}
	if err := repo.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("Insert() did not assign an ID")
	}
	if entry.EnteredAt.IsZero() {
		t.Error("Insert() did not assign EnteredAt")
	}
}

// Two entries landing within the same wall-clock second must not shadow each
// other: after the first is synced and the watermark sits at its entered_at,
// the second still has to come back from ListSince.
func TestMoodRepo_ListSinceSameSecond(t *testing.T) {
	repo := NewMoodRepo(testDB(t))
	ctx := context.Background()

	first := time.Date(2025, 6, 1, 12, 0, 5, 300_000_000, time.UTC)
	second := time.Date(2025, 6, 1, 12, 0, 5, 800_000_000, time.UTC)
	for i, at := range []time.Time{first, second} {
		entry := &MoodEntry{Score: i + 1, FeltAt: at, EnteredAt: at}
		if err := repo.Insert(ctx, entry); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	entries, err := repo.ListSince(ctx, first, 10, 0)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListSince() returned %d entries, want 1", len(entries))
	}
	if !entries[0].EnteredAt.Equal(second) {
		t.Errorf("ListSince() entered_at = %v, want %v", entries[0].EnteredAt, second)
	}

	entries, err = repo.ListSince(ctx, second, 10, 0)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListSince() past the last entry returned %d entries, want 0", len(entries))
	}
}

func TestMoodRepo_ListSincePaging(t *testing.T) {
	repo := NewMoodRepo(testDB(t))
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := &MoodEntry{
			Score:     i + 1,
			FeltAt:    base.Add(time.Duration(i) * time.Hour),
			EnteredAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Insert(ctx, entry); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	// Strictly after the first entry's instant, so 4 remain
	entries, err := repo.ListSince(ctx, base, 2, 0)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListSince() returned %d entries, want 2", len(entries))
	}
	if entries[0].Score != 2 || entries[1].Score != 3 {
		t.Errorf("first page scores = %d, %d, want 2, 3", entries[0].Score, entries[1].Score)
	}

	entries, err = repo.ListSince(ctx, base, 2, 2)
	if err != nil {
		t.Fatalf("ListSince() offset error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListSince() offset returned %d entries, want 2", len(entries))
	}
	if entries[0].Score != 4 || entries[1].Score != 5 {
		t.Errorf("second page scores = %d, %d, want 4, 5", entries[0].Score, entries[1].Score)
	}

	entries, err = repo.ListSince(ctx, base, 2, 4)
	if err != nil {
		t.Fatalf("ListSince() final page error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListSince() past the end returned %d entries, want 0", len(entries))
	}
}
