// Package source contains the per-source fetch clients. Each client knows
// only its own service's request shape and yields raw records for the sync
// engine to normalize and persist.
package source

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_client.go -package=mocks lifecal/internal/source Client

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized is returned when a source rejects the configured
	// credentials. It is fatal for the sync run: retrying other pages cannot
	// help, and the watermark must not move.
	ErrUnauthorized = errors.New("source rejected credentials")
	// ErrBadConfig is returned when a client's base configuration is unusable
	// (e.g. an unparsable base URL). Also fatal for the run.
	ErrBadConfig = errors.New("source misconfigured")
)

// RawRecord is one unparsed record as fetched from a source, tagged with the
// record kind the client knows it to be. Field names are whatever the source
// uses; the normalizer resolves them.
type RawRecord struct {
	Kind   string
	Fields map[string]any
}

// Page is one page of fetched records. An empty NextCursor means the source
// has no more data (or no explicit continuation signal).
type Page struct {
	Items      []RawRecord
	NextCursor string
}

// Client fetches pages of raw records from one external source.
type Client interface {
	// Name returns the source name ("limitless", "omi", "weather", "mood").
	Name() string
	// FetchPage fetches one page of records changed since the given instant.
	// cursor is the NextCursor of the previous page, or "" for the first page.
	FetchPage(ctx context.Context, since time.Time, cursor string, limit int) (Page, error)
}
