package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"lifecal/internal/storage"
	"lifecal/internal/sync"
)

// testDB opens a migrated database in a temp dir.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("storage.Migrate() error = %v", err)
	}
	return db
}

// fakeSyncer records calls and returns canned results.
type fakeSyncer struct {
	oneResult  sync.Result
	oneErr     error
	allResults map[string]sync.Result
	lastName   string
	lastOpts   sync.Options
}

func (f *fakeSyncer) SyncOne(ctx context.Context, name string, opts sync.Options) (sync.Result, error) {
	f.lastName = name
	f.lastOpts = opts
	return f.oneResult, f.oneErr
}

func (f *fakeSyncer) SyncAll(ctx context.Context, opts sync.Options) map[string]sync.Result {
	f.lastOpts = opts
	return f.allResults
}

func syncRouter(engine Syncer) http.Handler {
	r := chi.NewRouter()
	h := NewSyncHandler(engine)
	r.Post("/api/sync", h.SyncAll)
	r.Post("/api/sync/{source}", h.SyncOne)
	return r
}

func TestSyncHandler_SyncOne(t *testing.T) {
	engine := &fakeSyncer{oneResult: sync.Result{Source: "limitless", Success: true, Fetched: 3, Inserted: 3}}
	router := syncRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/limitless", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.lastName != "limitless" {
		t.Errorf("synced source = %s", engine.lastName)
	}

	var result sync.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if !result.Success || result.Inserted != 3 {
		t.Errorf("result = %+v", result)
	}
}

func TestSyncHandler_SyncOne_FullQuery(t *testing.T) {
	engine := &fakeSyncer{oneResult: sync.Result{Success: true}}
	router := syncRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/limitless?full=true", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if !engine.lastOpts.ForceFull {
		t.Error("ForceFull not passed through from ?full=true")
	}
}

func TestSyncHandler_SyncOne_Errors(t *testing.T) {
	tests := []struct {
		name       string
		engine     *fakeSyncer
		wantStatus int
	}{
		{
			name:       "unknown source",
			engine:     &fakeSyncer{oneErr: sync.ErrUnknownSource},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already running",
			engine:     &fakeSyncer{oneErr: sync.ErrSyncInProgress},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "fatal source failure",
			engine:     &fakeSyncer{oneResult: sync.Result{Source: "limitless", FatalError: "status 401"}},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := syncRouter(tt.engine)
			req := httptest.NewRequest(http.MethodPost, "/api/sync/limitless", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
				t.Errorf("Content-Type = %s", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestSyncHandler_SyncAll(t *testing.T) {
	engine := &fakeSyncer{allResults: map[string]sync.Result{
		"limitless": {Source: "limitless", Success: true, Inserted: 2},
		"omi":       {Source: "omi", FatalError: "status 401"},
	}}
	router := syncRouter(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Results map[string]sync.Result `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %v", resp.Results)
	}
	if !resp.Results["limitless"].Success || resp.Results["omi"].FatalError == "" {
		t.Errorf("results = %+v", resp.Results)
	}
}
