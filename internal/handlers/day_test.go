package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lifecal/internal/storage"
)

// fakeNarrator serves a fixed narrative.
type fakeNarrator struct {
	narrative string
	err       error
}

func (f *fakeNarrator) DailyNarrative(ctx context.Context, day string) (string, error) {
	return f.narrative, f.err
}

func dayRouter(records storage.RecordStore, children storage.ChildStore, narrator Narrator) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/api/day/{date}", NewDayHandler(records, children, narrator))
	return r
}

func TestDayHandler_RecordsWithChildren(t *testing.T) {
	db := testDB(t)
	records := storage.NewRecordRepo(db)
	children := storage.NewChildRepo(db)
	ctx := context.Background()

	rec := &storage.Record{
		Source:     "omi",
		Kind:       "conversation",
		ExternalID: "c-1",
		Title:      "Standup",
		OccurredAt: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
		Payload:    "{}",
	}
	if _, err := records.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	spokeAt := time.Date(2025, 6, 1, 14, 0, 5, 0, time.UTC)
	child := &storage.ChildRecord{
		ID: uuid.New().String(), RecordID: rec.ID, ExternalID: "s-1",
		Kind: "utterance", Speaker: "alice", Content: "morning", SpokeAt: &spokeAt, Payload: "{}",
	}
	if _, err := children.Insert(ctx, child); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	router := dayRouter(records, children, &fakeNarrator{narrative: "# A short day"})
	req := httptest.NewRequest(http.MethodGet, "/api/day/2025-06-01", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Date          string `json:"date"`
		Narrative     string `json:"narrative"`
		NarrativeHTML string `json:"narrative_html"`
		Records       []struct {
			ExternalID string `json:"external_id"`
			Title      string `json:"title"`
			OccurredAt string `json:"occurred_at"`
			Children   []struct {
				Speaker string `json:"speaker"`
				Content string `json:"content"`
				SpokeAt string `json:"spoke_at"`
			} `json:"children"`
		} `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}

	if resp.Date != "2025-06-01" || resp.Narrative != "# A short day" {
		t.Errorf("date/narrative = %s / %q", resp.Date, resp.Narrative)
	}
	if !strings.Contains(resp.NarrativeHTML, "<h1>A short day</h1>") {
		t.Errorf("narrative_html = %q", resp.NarrativeHTML)
	}
	if len(resp.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(resp.Records))
	}
	got := resp.Records[0]
	if got.ExternalID != "c-1" || got.Title != "Standup" || got.OccurredAt != "2025-06-01T14:00:00Z" {
		t.Errorf("record = %+v", got)
	}
	if len(got.Children) != 1 || got.Children[0].Speaker != "alice" || got.Children[0].SpokeAt == "" {
		t.Errorf("children = %+v", got.Children)
	}
}

func TestDayHandler_EmptyDay(t *testing.T) {
	db := testDB(t)
	router := dayRouter(storage.NewRecordRepo(db), storage.NewChildRepo(db),
		&fakeNarrator{narrative: "Nothing synced for 2025-06-01 yet."})

	req := httptest.NewRequest(http.MethodGet, "/api/day/2025-06-01", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if string(resp["records"]) != "[]" {
		t.Errorf("records = %s, want []", resp["records"])
	}
}

func TestDayHandler_NarratorFailureStillServesRecords(t *testing.T) {
	db := testDB(t)
	records := storage.NewRecordRepo(db)
	ctx := context.Background()

	rec := &storage.Record{Source: "mood", Kind: "mood", ExternalID: "m-1",
		OccurredAt: time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC), Payload: "{}"}
	if _, err := records.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	router := dayRouter(records, storage.NewChildRepo(db), &fakeNarrator{err: errors.New("model down")})
	req := httptest.NewRequest(http.MethodGet, "/api/day/2025-06-01", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite narrator failure", w.Code)
	}
	var resp struct {
		Narrative string            `json:"narrative"`
		Records   []json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if resp.Narrative != "" || len(resp.Records) != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestDayHandler_InvalidDate(t *testing.T) {
	db := testDB(t)
	router := dayRouter(storage.NewRecordRepo(db), storage.NewChildRepo(db), &fakeNarrator{})

	req := httptest.NewRequest(http.MethodGet, "/api/day/tomorrow", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
