package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ChildStore defines the interface for child record storage operations.
// Children are immutable: there is no update path, only conflict-tolerant
// insertion keyed on (record_id, external_id).
type ChildStore interface {
	// Insert inserts a single child record. The child.ID must be set (UUID)
	// before calling this method. Re-inserting a child with the same
	// (record_id, external_id) is a no-op, not an error; the returned bool
	// reports whether a row was actually written.
	Insert(ctx context.Context, child *ChildRecord) (bool, error)
	// ListByRecord returns all children of a record in sibling order.
	ListByRecord(ctx context.Context, recordID string) ([]*ChildRecord, error)
	// CountByRecord counts a record's children.
	CountByRecord(ctx context.Context, recordID string) (int, error)
}

// ChildRepo provides methods for child record operations.
// It implements the ChildStore interface.
type ChildRepo struct {
	db *sql.DB
}

// NewChildRepo creates a new ChildRepo.
func NewChildRepo(db *sql.DB) *ChildRepo {
	return &ChildRepo{db: db}
}

// Insert inserts a single child record, ignoring redeliveries.
// Sources redeliver at least once; the unique (record_id, external_id) key
// plus DO NOTHING makes re-processing the same child safe.
func (r *ChildRepo) Insert(ctx context.Context, child *ChildRecord) (bool, error) {
	var parentChildID any
	if child.ParentChildID != "" {
		parentChildID = child.ParentChildID
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO child_records (id, record_id, parent_child_id, external_id, kind,
		                            sibling_order, speaker, content, spoke_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (record_id, external_id) DO NOTHING`,
		child.ID, child.RecordID, parentChildID, child.ExternalID, child.Kind,
		child.SiblingOrder, child.Speaker, child.Content, nullTime(child.SpokeAt), child.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert child record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByRecord returns all children of a record in sibling order.
// Returns an empty slice if no children exist (not an error).
func (r *ChildRepo) ListByRecord(ctx context.Context, recordID string) ([]*ChildRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, record_id, parent_child_id, external_id, kind, sibling_order,
		        speaker, content, spoke_at, payload
		 FROM child_records WHERE record_id = ? ORDER BY sibling_order`,
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query child records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var children []*ChildRecord
	for rows.Next() {
		var child ChildRecord
		var parentChildID, spokeAt sql.NullString
		if err := rows.Scan(&child.ID, &child.RecordID, &parentChildID, &child.ExternalID,
			&child.Kind, &child.SiblingOrder, &child.Speaker, &child.Content,
			&spokeAt, &child.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan child record: %w", err)
		}
		child.ParentChildID = parentChildID.String
		if child.SpokeAt, err = parseNullTime(spokeAt); err != nil {
			return nil, fmt.Errorf("failed to parse spoke_at: %w", err)
		}
		children = append(children, &child)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return children, nil
}

// CountByRecord counts a record's children.
func (r *ChildRepo) CountByRecord(ctx context.Context, recordID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM child_records WHERE record_id = ?",
		recordID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count child records: %w", err)
	}
	return count, nil
}
