package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifecal/internal/contextutil"
	"lifecal/internal/sync"
)

// Syncer is the slice of the sync engine the HTTP layer needs.
type Syncer interface {
	// SyncOne runs one source's sync pipeline.
	SyncOne(ctx context.Context, name string, opts sync.Options) (sync.Result, error)
	// SyncAll runs every registered source concurrently.
	SyncAll(ctx context.Context, opts sync.Options) map[string]sync.Result
}

// SyncHandler handles on-demand sync triggers.
type SyncHandler struct {
	engine Syncer
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine Syncer) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// syncAllResponse wraps the per-source results of a sync-all run.
type syncAllResponse struct {
	Results map[string]sync.Result `json:"results"`
}

// SyncAll triggers a sync of every configured source.
//
// POST /api/sync?full=true
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results := h.engine.SyncAll(ctx, optionsFromQuery(r))
	writeJSON(ctx, w, http.StatusOK, syncAllResponse{Results: results})
}

// SyncOne triggers a sync of a single source.
// Returns 404 for an unknown source and 409 when a run is already in flight.
//
// POST /api/sync/{source}?full=true
func (h *SyncHandler) SyncOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	name := chi.URLParam(r, "source")

	result, err := h.engine.SyncOne(ctx, name, optionsFromQuery(r))
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrUnknownSource):
			writeError(ctx, w, http.StatusNotFound, "unknown source")
		case errors.Is(err, sync.ErrSyncInProgress):
			writeError(ctx, w, http.StatusConflict, "sync already in progress")
		default:
			logger.ErrorContext(ctx, "sync failed", "source", name, "error", err)
			writeError(ctx, w, http.StatusInternalServerError, "sync failed")
		}
		return
	}

	status := http.StatusOK
	if result.FatalError != "" {
		// Total failure: zero records processed, watermark untouched
		status = http.StatusBadGateway
	}
	writeJSON(ctx, w, status, result)
}

func optionsFromQuery(r *http.Request) sync.Options {
	return sync.Options{ForceFull: r.URL.Query().Get("full") == "true"}
}
