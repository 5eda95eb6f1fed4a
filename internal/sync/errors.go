package sync

import (
	"errors"

	"lifecal/internal/source"
)

var (
	// ErrUnknownSource is returned when a sync is requested for a source name
	// that has not been registered with the engine.
	ErrUnknownSource = errors.New("unknown source")
	// ErrSyncInProgress is returned when a sync is requested for a source that
	// already has a run in flight. Runs for the same source never interleave;
	// the caller retries later.
	ErrSyncInProgress = errors.New("sync already in progress for source")
)

// isFatal reports whether a fetch error should abort the whole run rather
// than produce a partial batch. Only source-level failures qualify: rejected
// credentials and unusable base configuration. Everything else (timeouts,
// transient network errors) leaves the already-fetched pages processable and
// is retried naturally on the next scheduled run.
func isFatal(err error) bool {
	return errors.Is(err, source.ErrUnauthorized) || errors.Is(err, source.ErrBadConfig)
}
