package storage

import "time"

// DayFormat is the calendar-day key format used by rollups and day queries.
const DayFormat = "2006-01-02"

// Record is one top-level unit synced from a source: a lifelog entry, a
// conversation, a fact, a todo, a weather reading, or a mood entry.
// (source, kind, external_id) is unique and serves as the upsert conflict key.
type Record struct {
	ID             string     // UUID
	Source         string     // e.g. "limitless", "omi", "weather", "mood"
	Kind           string     // e.g. "lifelog", "conversation", "fact", "todo", "weather", "mood"
	ExternalID     string     // stable identifier assigned by the source
	Title          string
	Body           string
	OccurredAt     time.Time  // primary instant, drives day bucketing
	OccurredEnd    *time.Time // end of range, when the source provides one
	LastModifiedAt *time.Time // change-detection instant from the source
	Payload        string     // JSON with type-specific fields
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Day returns the UTC calendar day the record belongs to.
func (r *Record) Day() string {
	return r.OccurredAt.UTC().Format(DayFormat)
}

// ChildRecord is a record owned by exactly one parent Record: an utterance
// under a conversation, or a content node under a lifelog entry. Content
// nodes may nest under another content node via ParentChildID. Children are
// immutable once written; re-delivery keyed on (record_id, external_id) is a
// no-op.
type ChildRecord struct {
	ID            string // UUID
	RecordID      string // owning Record.ID
	ParentChildID string // parent ChildRecord.ID for nested nodes, "" at top level
	ExternalID    string // unique within the parent record
	Kind          string // "utterance" or "content_node"
	SiblingOrder  int    // source-given order among siblings
	Speaker       string
	Content       string
	SpokeAt       *time.Time
	Payload       string // JSON
}

// Watermark records the instant through which a source's data is known to be
// fully synced.
type Watermark struct {
	Source        string
	SyncedThrough time.Time
}

// Rollup is the per (day, source) aggregate consumed by the calendar view.
// RecordCount is monotonically non-decreasing across sync runs.
type Rollup struct {
	Day         string
	Source      string
	HasData     bool
	RecordCount int
	UpdatedAt   time.Time
}

// DailySummary is a cached narrative for one day, invalidated whenever a sync
// run lands new data on that day.
type DailySummary struct {
	Day         string
	Narrative   string // markdown
	GeneratedAt time.Time
}

// MoodEntry is a manually entered mood measurement staged in the local inbox
// until the mood source client picks it up.
type MoodEntry struct {
	ID        string // UUID
	Score     int    // 1..10
	Note      string
	FeltAt    time.Time
	EnteredAt time.Time
}
