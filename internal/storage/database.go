package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// It enables foreign keys and sets connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys (disabled by default in SQLite)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	// WAL lets the calendar endpoints read while a sync run is writing
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL,
			occurred_end TEXT,
			last_modified_at TEXT,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (source, kind, external_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_occurred_at ON records (occurred_at);`,
		`CREATE TABLE IF NOT EXISTS child_records (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			parent_child_id TEXT,
			external_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			sibling_order INTEGER NOT NULL DEFAULT 0,
			speaker TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			spoke_at TEXT,
			payload TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE,
			UNIQUE (record_id, external_id)
		);`,
		`CREATE TABLE IF NOT EXISTS sync_watermarks (
			source TEXT PRIMARY KEY,
			synced_through TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_rollups (
			day TEXT NOT NULL,
			source TEXT NOT NULL,
			has_data INTEGER NOT NULL DEFAULT 0,
			record_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (day, source)
		);`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			day TEXT PRIMARY KEY,
			narrative TEXT NOT NULL,
			generated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mood_inbox (
			id TEXT PRIMARY KEY,
			score INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			felt_at TEXT NOT NULL,
			entered_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// timeLayout is RFC3339 with fixed-width nanoseconds. The fixed width keeps
// lexicographic comparison in SQL equal to time order even when values differ
// only below the second, which the watermark guard and the mood inbox's
// entered_at cursor both rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serializes an instant for storage, always in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp, accepting the RFC3339 form written by
// this package (fractional seconds included) and the plain DATETIME form
// SQLite produces elsewhere.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
