package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lifecal/internal/contextutil"
	"lifecal/internal/storage"
	"lifecal/internal/summary"
)

// Narrator generates the daily narrative shown above the day's records.
type Narrator interface {
	DailyNarrative(ctx context.Context, day string) (string, error)
}

// DayHandler serves everything the "daily newspaper" view needs for one day:
// the narrative plus the raw records with their children.
type DayHandler struct {
	records  storage.RecordStore
	children storage.ChildStore
	narrator Narrator
}

// NewDayHandler creates a new DayHandler.
func NewDayHandler(records storage.RecordStore, children storage.ChildStore, narrator Narrator) *DayHandler {
	return &DayHandler{records: records, children: children, narrator: narrator}
}

// dayChild is one child record in the day payload.
type dayChild struct {
	ExternalID string `json:"external_id"`
	Kind       string `json:"kind"`
	Speaker    string `json:"speaker,omitempty"`
	Content    string `json:"content"`
	SpokeAt    string `json:"spoke_at,omitempty"`
}

// dayRecord is one record with its children in the day payload.
type dayRecord struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Kind       string     `json:"kind"`
	ExternalID string     `json:"external_id"`
	Title      string     `json:"title,omitempty"`
	Body       string     `json:"body,omitempty"`
	OccurredAt string     `json:"occurred_at"`
	Payload    string     `json:"payload,omitempty"`
	Children   []dayChild `json:"children,omitempty"`
}

type dayResponse struct {
	Date          string      `json:"date"`
	Narrative     string      `json:"narrative"`
	NarrativeHTML string      `json:"narrative_html"`
	Records       []dayRecord `json:"records"`
}

// ServeHTTP handles day detail queries.
//
// GET /api/day/{date}
func (h *DayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	date := chi.URLParam(r, "date")
	if _, err := time.Parse(storage.DayFormat, date); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	records, err := h.records.ListByDay(ctx, date)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list records", "date", date, "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to load day")
		return
	}

	resp := dayResponse{Date: date, Records: []dayRecord{}}
	for _, rec := range records {
		out := dayRecord{
			ID:         rec.ID,
			Source:     rec.Source,
			Kind:       rec.Kind,
			ExternalID: rec.ExternalID,
			Title:      rec.Title,
			Body:       rec.Body,
			OccurredAt: rec.OccurredAt.UTC().Format(time.RFC3339),
			Payload:    rec.Payload,
		}
		children, err := h.children.ListByRecord(ctx, rec.ID)
		if err != nil {
			// Children are detail, not the point of the view
			logger.WarnContext(ctx, "failed to list children", "record_id", rec.ID, "error", err)
		}
		for _, child := range children {
			c := dayChild{
				ExternalID: child.ExternalID,
				Kind:       child.Kind,
				Speaker:    child.Speaker,
				Content:    child.Content,
			}
			if child.SpokeAt != nil {
				c.SpokeAt = child.SpokeAt.UTC().Format(time.RFC3339)
			}
			out.Children = append(out.Children, c)
		}
		resp.Records = append(resp.Records, out)
	}

	resp.Narrative, err = h.narrator.DailyNarrative(ctx, date)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build narrative", "date", date, "error", err)
		resp.Narrative = ""
	}
	if resp.Narrative != "" {
		if html, err := summary.RenderHTML(resp.Narrative); err == nil {
			resp.NarrativeHTML = html
		} else {
			logger.WarnContext(ctx, "failed to render narrative", "date", date, "error", err)
		}
	}

	writeJSON(ctx, w, http.StatusOK, resp)
}
