package sync

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"lifecal/internal/storage"
)

// testStores opens a migrated temp database and returns its repos.
func testStores(t *testing.T) (*sql.DB, *storage.RecordRepo, *storage.ChildRepo, *storage.WatermarkRepo, *storage.RollupRepo) {
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
	return db, storage.NewRecordRepo(db), storage.NewChildRepo(db),
		storage.NewWatermarkRepo(db), storage.NewRollupRepo(db)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func normalizedFact(externalID, body string, at time.Time) NormalizedRecord {
	return NormalizedRecord{
		Record: storage.Record{
			Source:     "omi",
			Kind:       "fact",
			ExternalID: externalID,
			Body:       body,
			OccurredAt: at,
			Payload:    "{}",
		},
	}
}

func TestReconcile_InsertThenUpdate(t *testing.T) {
	_, records, _, _, _ := testStores(t)
	rec := NewReconciler(records, quietLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	res := rec.Reconcile(ctx, []NormalizedRecord{normalizedFact("f-1", "prefers tea", at)})
	if res.Inserted != 1 || res.Updated != 0 {
		t.Errorf("first batch inserted/updated = %d/%d, want 1/0", res.Inserted, res.Updated)
	}

	// Replaying the same key updates
	res = rec.Reconcile(ctx, []NormalizedRecord{normalizedFact("f-1", "prefers coffee", at)})
	if res.Inserted != 0 || res.Updated != 1 {
		t.Errorf("replay inserted/updated = %d/%d, want 0/1", res.Inserted, res.Updated)
	}

	got, err := records.GetByKey(ctx, "omi", "fact", "f-1")
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	if got.Body != "prefers coffee" {
		t.Errorf("Body = %q, want the replayed value", got.Body)
	}
}

func TestReconcile_WithinBatchDuplicateCollapses(t *testing.T) {
	_, records, _, _, _ := testStores(t)
	rec := NewReconciler(records, quietLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	// The same external id delivered twice in one batch: exactly one outcome,
	// last write wins
	batch := []NormalizedRecord{
		normalizedFact("42", "first delivery", at),
		normalizedFact("43", "other record", at),
		normalizedFact("42", "second delivery", at),
	}
	res := rec.Reconcile(ctx, batch)

	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	if res.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", res.Duplicates)
	}
	if got := res.Inserted + res.Updated + res.Failed + res.Duplicates; got != len(batch) {
		t.Errorf("outcome sum = %d, want batch size %d", got, len(batch))
	}

	got, err := records.GetByKey(ctx, "omi", "fact", "42")
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	if got.Body != "second delivery" {
		t.Errorf("Body = %q, want last write", got.Body)
	}

	// Order is preserved at the first occurrence's position
	if len(res.Persisted) != 2 || res.Persisted[0].Record.ExternalID != "42" {
		t.Errorf("persisted order wrong: %+v", res.Persisted)
	}
}

func TestReconcile_SameExternalIDAcrossKinds(t *testing.T) {
	_, records, _, _, _ := testStores(t)
	rec := NewReconciler(records, quietLogger())
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	fact := normalizedFact("42", "a fact", at)
	todo := normalizedFact("42", "a todo", at)
	todo.Record.Kind = "todo"

	// Different kinds do not collide even with the same external id
	res := rec.Reconcile(context.Background(), []NormalizedRecord{fact, todo})
	if res.Inserted != 2 || res.Duplicates != 0 {
		t.Errorf("inserted/duplicates = %d/%d, want 2/0", res.Inserted, res.Duplicates)
	}
}

// flakyRecordStore fails Upsert for one external id and delegates the rest.
type flakyRecordStore struct {
	storage.RecordStore
	failID string
}

func (f *flakyRecordStore) Upsert(ctx context.Context, rec *storage.Record) (storage.UpsertOutcome, error) {
	if rec.ExternalID == f.failID {
		return 0, errors.New("disk full")
	}
	return f.RecordStore.Upsert(ctx, rec)
}

func TestReconcile_FailureDoesNotAbortBatch(t *testing.T) {
	_, records, _, _, _ := testStores(t)
	rec := NewReconciler(&flakyRecordStore{RecordStore: records, failID: "f-bad"}, quietLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	res := rec.Reconcile(ctx, []NormalizedRecord{
		normalizedFact("f-ok-1", "fine", at),
		normalizedFact("f-bad", "will fail", at),
		normalizedFact("f-ok-2", "also fine", at),
	})

	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want the 2 good records", res.Inserted)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if len(res.Persisted) != 2 {
		t.Errorf("Persisted = %d records, want 2", len(res.Persisted))
	}
}
