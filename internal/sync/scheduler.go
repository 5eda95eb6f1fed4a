package sync

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"
)

// Scheduler runs periodic sync runs, one goroutine per source. Each source
// syncs once shortly after start and then on its own interval. Stopping is
// cooperative via the context passed to Start.
type Scheduler struct {
	engine    *Engine
	intervals map[string]time.Duration
	logger    *slog.Logger
	wg        stdsync.WaitGroup
}

// NewScheduler creates a new Scheduler over the engine.
func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:    engine,
		intervals: make(map[string]time.Duration),
		logger:    logger,
	}
}

// Add schedules a source at the given interval. Must be called before Start.
func (s *Scheduler) Add(sourceName string, every time.Duration) {
	s.intervals[sourceName] = every
}

// Start launches the per-source loops and returns. Cancel the context to
// stop them, then Wait for the in-flight runs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	for name, every := range s.intervals {
		s.wg.Add(1)
		go func(name string, every time.Duration) {
			defer s.wg.Done()
			s.loop(ctx, name, every)
		}(name, every)
	}
}

// Wait blocks until all loops have stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.runOnce(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, name)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string) {
	if _, err := s.engine.SyncOne(ctx, name, Options{}); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			// An on-demand run is already in flight; the tick is redundant
			s.logger.DebugContext(ctx, "scheduled sync skipped", "source", name)
			return
		}
		s.logger.ErrorContext(ctx, "scheduled sync failed", "source", name, "error", err)
	}
}
