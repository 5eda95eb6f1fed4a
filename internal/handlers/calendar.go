package handlers

import (
	"net/http"
	"sort"
	"time"

	"lifecal/internal/contextutil"
	"lifecal/internal/storage"
)

// CalendarHandler serves the rollup rows the calendar grid renders from.
// This is a plain read of daily_rollups; raw record tables are never scanned.
type CalendarHandler struct {
	rollups storage.RollupStore
}

// NewCalendarHandler creates a new CalendarHandler.
func NewCalendarHandler(rollups storage.RollupStore) *CalendarHandler {
	return &CalendarHandler{rollups: rollups}
}

// calendarSource is one source's presence on one day.
type calendarSource struct {
	HasData bool `json:"has_data"`
	Count   int  `json:"count"`
}

// calendarDay groups a day's rollups for the grid.
type calendarDay struct {
	Date    string                    `json:"date"`
	Sources map[string]calendarSource `json:"sources"`
}

type calendarResponse struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	Days []calendarDay `json:"days"`
}

// ServeHTTP handles calendar range queries.
//
// GET /api/calendar?from=YYYY-MM-DD&to=YYYY-MM-DD
// Defaults to the 30 days ending today.
func (h *CalendarHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	to := r.URL.Query().Get("to")
	if to == "" {
		to = time.Now().UTC().Format(storage.DayFormat)
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		toTime, err := time.Parse(storage.DayFormat, to)
		if err != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
			return
		}
		from = toTime.AddDate(0, 0, -30).Format(storage.DayFormat)
	}
	for _, day := range []string{from, to} {
		if _, err := time.Parse(storage.DayFormat, day); err != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
	}

	rollups, err := h.rollups.ListRange(ctx, from, to)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list rollups", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to load calendar")
		return
	}

	byDay := make(map[string]map[string]calendarSource)
	for _, rollup := range rollups {
		if byDay[rollup.Day] == nil {
			byDay[rollup.Day] = make(map[string]calendarSource)
		}
		byDay[rollup.Day][rollup.Source] = calendarSource{
			HasData: rollup.HasData,
			Count:   rollup.RecordCount,
		}
	}

	resp := calendarResponse{From: from, To: to, Days: []calendarDay{}}
	for day, sources := range byDay {
		resp.Days = append(resp.Days, calendarDay{Date: day, Sources: sources})
	}
	sort.Slice(resp.Days, func(i, j int) bool { return resp.Days[i].Date < resp.Days[j].Date })

	writeJSON(ctx, w, http.StatusOK, resp)
}
