package sync

import (
	"context"

	"lifecal/internal/source"
)

// FetchFunc fetches one page for the walker. It is the walker-facing slice of
// source.Client with the sync window already bound.
type FetchFunc func(ctx context.Context, cursor string, limit int) (source.Page, error)

// WalkResult is everything a walk accumulated before it stopped.
type WalkResult struct {
	Items []source.RawRecord
	Pages int
	// Err is set when the walk stopped early on a fetch error or context
	// cancellation. Items fetched before the error are still valid and are
	// processed as a partial batch.
	Err error
}

// Walk drives a fetch function page by page until the source is exhausted or
// a bound is hit. It stops when the returned cursor is empty, when maxPages
// pages have been fetched (hard safety bound against a misbehaving API), or,
// if stopOnShortPage is set, when a page returns fewer than limit items.
// The short-page heuristic is for offset-paged APIs with no explicit
// end-of-data signal; clients that return a real cursor signal exhaustion by
// returning an empty one.
//
// A fetch error ends the walk but is not a hard failure: already-fetched
// items are returned alongside the error so the engine can process them.
func Walk(ctx context.Context, fetch FetchFunc, limit, maxPages int, stopOnShortPage bool) WalkResult {
	var res WalkResult
	cursor := ""

	for res.Pages < maxPages {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		page, err := fetch(ctx, cursor, limit)
		if err != nil {
			res.Err = err
			return res
		}

		res.Pages++
		res.Items = append(res.Items, page.Items...)

		if page.NextCursor == "" {
			return res
		}
		if stopOnShortPage && len(page.Items) < limit {
			return res
		}
		cursor = page.NextCursor
	}

	return res
}
