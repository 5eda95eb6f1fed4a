package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lifecal/internal/contextutil"
	"lifecal/internal/storage"
	"lifecal/internal/sync"
)

// MoodHandler accepts manual mood entries. Entries land in the local inbox
// and a mood sync is kicked off immediately so they show up on the calendar
// without waiting for the next scheduled run.
type MoodHandler struct {
	inbox  storage.MoodStore
	engine Syncer
}

// NewMoodHandler creates a new MoodHandler.
func NewMoodHandler(inbox storage.MoodStore, engine Syncer) *MoodHandler {
	return &MoodHandler{inbox: inbox, engine: engine}
}

// moodRequest is the mood capture payload.
type moodRequest struct {
	Score  int    `json:"score"`             // 1..10
	Note   string `json:"note,omitempty"`
	FeltAt string `json:"felt_at,omitempty"` // RFC3339; defaults to now
}

type moodResponse struct {
	ID   string      `json:"id"`
	Sync sync.Result `json:"sync"`
}

// ServeHTTP handles mood capture.
//
// POST /api/mood
func (h *MoodHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req moodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Score < 1 || req.Score > 10 {
		writeError(ctx, w, http.StatusBadRequest, "score must be between 1 and 10")
		return
	}

	feltAt := time.Now().UTC()
	if req.FeltAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.FeltAt)
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, "felt_at must be RFC3339")
			return
		}
		feltAt = parsed
	}

	entry := &storage.MoodEntry{Score: req.Score, Note: req.Note, FeltAt: feltAt}
	if err := h.inbox.Insert(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "failed to stage mood entry", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to save mood entry")
		return
	}

	result, err := h.engine.SyncOne(ctx, "mood", sync.Options{})
	if err != nil && !errors.Is(err, sync.ErrSyncInProgress) {
		// The entry is staged; the next scheduled run will pick it up
		logger.WarnContext(ctx, "mood sync after capture failed", "error", err)
	}

	writeJSON(ctx, w, http.StatusCreated, moodResponse{ID: entry.ID, Sync: result})
}
