// Package sync implements the data ingestion synchronization engine: per
// source, fetch changed records, normalize them, reconcile them into the
// store, materialize their children, update the daily rollups, and advance
// the sync watermark.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"lifecal/internal/source"
	"lifecal/internal/storage"
)

// runState tracks where a per-source run is in its pipeline. States advance
// strictly forward; "failed" is terminal and reachable only from fetching,
// on a fatal source error. Every other per-record failure is absorbed as a
// counted rejection.
type runState string

const (
	stateIdle               runState = "idle"
	stateFetching           runState = "fetching"
	stateNormalizing        runState = "normalizing"
	statePersisting         runState = "persisting"
	stateRollingUp          runState = "rolling_up"
	stateAdvancingWatermark runState = "advancing_watermark"
	stateDone               runState = "done"
	stateFailed             runState = "failed"
)

// Settings bound one source's fetch behavior.
type Settings struct {
	// PageLimit is the per-page item count requested from the source.
	PageLimit int
	// MaxPages is the hard safety bound on pages per run.
	MaxPages int
	// StopOnShortPage enables the walker's short-page heuristic for sources
	// whose API has no explicit end-of-data signal.
	StopOnShortPage bool
}

// DefaultSettings are used when a source's settings are left zero.
var DefaultSettings = Settings{PageLimit: 50, MaxPages: 100}

// Options adjust one sync invocation.
type Options struct {
	// ForceFull ignores the stored watermark and fetches from the beginning.
	// The watermark itself is untouched until the run completes.
	ForceFull bool
}

// Result is the operator-facing summary of one source's sync run.
// For a non-fatal run, Inserted + Updated + Rejected + Duplicates == Fetched.
type Result struct {
	Source          string        `json:"source"`
	Success         bool          `json:"success"`
	Fetched         int           `json:"fetched"`
	Inserted        int           `json:"inserted"`
	Updated         int           `json:"updated"`
	Rejected        int           `json:"rejected"`
	Duplicates      int           `json:"duplicates,omitempty"`
	ChildrenWritten int           `json:"children_written,omitempty"`
	Partial         bool          `json:"partial,omitempty"` // fetch stopped early; fetched pages were still processed
	FatalError      string        `json:"fatal_error,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

type registeredSource struct {
	client   source.Client
	settings Settings
}

// Engine is the sync orchestrator. Runs for the same source are serialized
// (a second concurrent request is rejected, not queued, to avoid watermark
// races); runs for different sources are independent.
type Engine struct {
	sources map[string]*registeredSource
	order   []string

	records    storage.RecordStore
	watermarks storage.WatermarkStore
	rollups    storage.RollupStore

	normalizer   *Normalizer
	reconciler   *Reconciler
	materializer *Materializer

	mu      stdsync.Mutex
	running map[string]bool

	logger *slog.Logger
}

// NewEngine creates a new sync engine over the given stores.
func NewEngine(records storage.RecordStore, children storage.ChildStore,
	watermarks storage.WatermarkStore, rollups storage.RollupStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sources:      make(map[string]*registeredSource),
		records:      records,
		watermarks:   watermarks,
		rollups:      rollups,
		normalizer:   NewNormalizer(),
		reconciler:   NewReconciler(records, logger),
		materializer: NewMaterializer(children, logger),
		running:      make(map[string]bool),
		logger:       logger,
	}
}

// Register adds a source client to the engine. Zero settings fields fall back
// to DefaultSettings. Registration happens once at composition time, before
// any sync runs.
func (e *Engine) Register(client source.Client, settings Settings) {
	if settings.PageLimit <= 0 {
		settings.PageLimit = DefaultSettings.PageLimit
	}
	if settings.MaxPages <= 0 {
		settings.MaxPages = DefaultSettings.MaxPages
	}
	name := client.Name()
	if _, exists := e.sources[name]; !exists {
		e.order = append(e.order, name)
	}
	e.sources[name] = &registeredSource{client: client, settings: settings}
}

// Sources returns the registered source names in registration order.
func (e *Engine) Sources() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// SyncAll runs every registered source concurrently and collects the results.
// Sources are independent; one source's fatal error does not affect another.
func (e *Engine) SyncAll(ctx context.Context, opts Options) map[string]Result {
	results := make(map[string]Result, len(e.order))
	var mu stdsync.Mutex
	var wg stdsync.WaitGroup

	for _, name := range e.order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := e.SyncOne(ctx, name, opts)
			if err != nil {
				res = Result{Source: name, FatalError: err.Error()}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// SyncOne runs the full pipeline for one source: fetch all pages, normalize,
// persist, roll up, advance the watermark. The returned error covers
// caller-level problems only (unknown source, run already in flight); a
// fatal source error is reported inside the Result.
func (e *Engine) SyncOne(ctx context.Context, name string, opts Options) (Result, error) {
	reg, ok := e.sources[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if !e.begin(name) {
		return Result{}, fmt.Errorf("%w: %s", ErrSyncInProgress, name)
	}
	defer e.end(name)

	started := time.Now()
	logger := e.logger.With("source", name)
	state := stateIdle
	transition := func(next runState) {
		logger.DebugContext(ctx, "sync state transition", "from", string(state), "to", string(next))
		state = next
	}

	res := Result{Source: name}

	since := time.Time{}
	if !opts.ForceFull {
		var err error
		if since, err = e.watermarks.Get(ctx, name); err != nil {
			return res, fmt.Errorf("failed to read watermark: %w", err)
		}
	}

	// Fetch
	transition(stateFetching)
	walk := Walk(ctx, func(ctx context.Context, cursor string, limit int) (source.Page, error) {
		return reg.client.FetchPage(ctx, since, cursor, limit)
	}, reg.settings.PageLimit, reg.settings.MaxPages, reg.settings.StopOnShortPage)

	res.Fetched = len(walk.Items)
	if walk.Err != nil {
		if isFatal(walk.Err) {
			transition(stateFailed)
			res.FatalError = walk.Err.Error()
			res.Duration = time.Since(started)
			logger.ErrorContext(ctx, "sync run failed", "error", walk.Err, "pages", walk.Pages)
			return res, nil
		}
		// Partial batch: process what was fetched, retry the rest next run
		res.Partial = true
		logger.WarnContext(ctx, "fetch stopped early, processing partial batch",
			"error", walk.Err, "pages", walk.Pages, "fetched", res.Fetched)
	}

	// Normalize
	transition(stateNormalizing)
	normalized := make([]NormalizedRecord, 0, len(walk.Items))
	for _, raw := range walk.Items {
		rec, rej := e.normalizer.Normalize(name, raw)
		if rej != nil {
			res.Rejected++
			logger.WarnContext(ctx, "record rejected",
				"kind", rej.Kind, "reason", rej.Reason, "detail", rej.Detail)
			continue
		}
		normalized = append(normalized, *rec)
	}

	// Persist
	transition(statePersisting)
	rec := e.reconciler.Reconcile(ctx, normalized)
	res.Inserted = rec.Inserted
	res.Updated = rec.Updated
	res.Duplicates = rec.Duplicates
	res.Rejected += rec.Failed

	for i := range rec.Persisted {
		p := rec.Persisted[i]
		stats := e.materializer.Materialize(ctx, p.Record, p.Children)
		res.ChildrenWritten += stats.Written
	}

	// Roll up each day the batch touched
	transition(stateRollingUp)
	days := make(map[string]bool)
	for _, p := range rec.Persisted {
		days[p.Record.Day()] = true
	}
	for day := range days {
		count, err := e.records.CountBySourceAndDay(ctx, name, day)
		if err != nil {
			logger.ErrorContext(ctx, "failed to count records for rollup", "day", day, "error", err)
			continue
		}
		if err := e.rollups.Apply(ctx, day, name, true, count); err != nil {
			logger.ErrorContext(ctx, "failed to apply rollup", "day", day, "error", err)
			continue
		}
		if err := e.rollups.InvalidateSummary(ctx, day); err != nil {
			logger.WarnContext(ctx, "failed to invalidate day summary", "day", day, "error", err)
		}
	}

	// Advance the watermark to the max modification instant of the records
	// that made it into the store. Records that failed validation are not
	// represented: if they are redelivered later with a newer modification
	// time they get another chance, but a record that keeps failing with an
	// unchanged timestamp is permanently skipped. Known tradeoff; the fix
	// (a dead-letter queue with backoff) is a product decision.
	transition(stateAdvancingWatermark)
	var candidate time.Time
	for _, p := range rec.Persisted {
		at := p.Record.OccurredAt
		if p.Record.LastModifiedAt != nil {
			at = *p.Record.LastModifiedAt
		}
		if at.After(candidate) {
			candidate = at
		}
	}
	if !candidate.IsZero() {
		if err := e.watermarks.Advance(ctx, name, candidate); err != nil {
			logger.ErrorContext(ctx, "failed to advance watermark", "error", err)
		}
	}

	transition(stateDone)
	res.Success = true
	res.Duration = time.Since(started)
	logger.InfoContext(ctx, "sync run completed",
		"fetched", res.Fetched, "inserted", res.Inserted, "updated", res.Updated,
		"rejected", res.Rejected, "children", res.ChildrenWritten,
		"partial", res.Partial, "duration", res.Duration)
	return res, nil
}

func (e *Engine) begin(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[name] {
		return false
	}
	e.running[name] = true
	return true
}

func (e *Engine) end(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, name)
}
