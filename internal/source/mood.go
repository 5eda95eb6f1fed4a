package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lifecal/internal/storage"
)

// MoodClient pages manually entered mood data out of the local inbox table.
// Backing manual input with a Client keeps it on the same normalize → persist
// → rollup path as the remote sources, watermark included.
type MoodClient struct {
	inbox storage.MoodStore
}

// NewMoodClient creates a new mood client over the inbox store.
func NewMoodClient(inbox storage.MoodStore) *MoodClient {
	return &MoodClient{inbox: inbox}
}

// Name returns the source name.
func (c *MoodClient) Name() string {
	return "mood"
}

// FetchPage reads one page of inbox entries entered since the given instant.
// The cursor is a plain row offset; the inbox has no end-of-data flag, so the
// walker's short-page heuristic terminates the loop.
func (c *MoodClient) FetchPage(ctx context.Context, since time.Time, cursor string, limit int) (Page, error) {
	offset := 0
	if cursor != "" {
		var err error
		if offset, err = strconv.Atoi(cursor); err != nil {
			return Page{}, fmt.Errorf("malformed cursor %q: %w", cursor, err)
		}
	}

	entries, err := c.inbox.ListSince(ctx, since, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read mood inbox: %w", err)
	}

	page := Page{NextCursor: strconv.Itoa(offset + len(entries))}
	for _, entry := range entries {
		page.Items = append(page.Items, RawRecord{
			Kind: "mood",
			Fields: map[string]any{
				"id":         entry.ID,
				"score":      entry.Score,
				"note":       entry.Note,
				"felt_at":    entry.FeltAt.UTC().Format(time.RFC3339Nano),
				"entered_at": entry.EnteredAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	return page, nil
}
