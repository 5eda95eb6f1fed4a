package sync

import (
	"context"
	"log/slog"

	"lifecal/internal/storage"
)

// PersistedRecord is one record that made it into the store during a batch,
// with its durable ID and the child tree still to be materialized.
type PersistedRecord struct {
	Record   *storage.Record
	Children []NormalizedChild
	Outcome  storage.UpsertOutcome
}

// ReconcileResult summarizes one batch's reconciliation.
// Inserted + Updated + Failed + Duplicates equals the batch size: a record
// redelivered within the same batch collapses into one outcome (last write
// wins) and is counted as a duplicate, not a second insert.
type ReconcileResult struct {
	Inserted   int
	Updated    int
	Failed     int
	Duplicates int
	Persisted  []PersistedRecord
}

// Reconciler decides insert-vs-update for canonical records against the
// store, keyed on (source, kind, external_id).
type Reconciler struct {
	records storage.RecordStore
	logger  *slog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(records storage.RecordStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{records: records, logger: logger}
}

// Reconcile upserts a batch in order. Within-batch duplicates of the same
// conflict key are collapsed first so a redelivered record cannot double
// count; the surviving values are the last ones seen, at the position of the
// first occurrence. A record that fails to persist is logged and counted as
// failed; it never aborts the batch.
func (r *Reconciler) Reconcile(ctx context.Context, batch []NormalizedRecord) ReconcileResult {
	var res ReconcileResult

	type key struct{ kind, externalID string }
	byKey := make(map[key]NormalizedRecord, len(batch))
	var order []key
	for _, rec := range batch {
		k := key{rec.Record.Kind, rec.Record.ExternalID}
		if _, seen := byKey[k]; seen {
			res.Duplicates++
		} else {
			order = append(order, k)
		}
		byKey[k] = rec
	}

	for _, k := range order {
		rec := byKey[k]
		stored := rec.Record
		outcome, err := r.records.Upsert(ctx, &stored)
		if err != nil {
			res.Failed++
			r.logger.ErrorContext(ctx, "failed to persist record",
				"source", stored.Source, "kind", stored.Kind,
				"external_id", stored.ExternalID, "error", err)
			continue
		}

		switch outcome {
		case storage.OutcomeInserted:
			res.Inserted++
		case storage.OutcomeUpdated:
			res.Updated++
		}
		res.Persisted = append(res.Persisted, PersistedRecord{
			Record:   &stored,
			Children: rec.Children,
			Outcome:  outcome,
		})
	}

	return res
}
