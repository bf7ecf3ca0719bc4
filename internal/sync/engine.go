package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// syncKey is the singleflight key shared by every Sync caller.
const syncKey = "sync"

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Store           Store        // satisfied by *cache.Store
	Fetcher         DeltaFetcher // satisfied by *firefly.Client
	Tasks           TaskFetcher  // satisfied by *firefly.Client
	ChunkSize       int          // byIds chunk size (0 → 50)
	ParallelFetches int          // concurrent chunk fetches (0 → 4)
	Logger          *slog.Logger
}

// Engine runs incremental sync cycles against the server and owns the
// in-memory snapshot readers consult.
type Engine struct {
	store   Store
	fetcher DeltaFetcher
	loader  *BatchLoader
	cache   *Cache
	logger  *slog.Logger
	nowFunc func() time.Time

	group singleflight.Group

	// The cycle in flight, if any, with the callers waiting on it.
	flightMu stdsync.Mutex
	flight   *flight

	// IDs callers asked to force-fetch that no cycle has picked up yet.
	pendingMu stdsync.Mutex
	pending   map[task.ID]struct{}

	// Serializes every write to the store with the matching in-memory swap,
	// and with Reset.
	commitMu stdsync.Mutex
}

// flight is one running cycle. Its context keeps the first caller's values
// but not its cancellation: the cycle is canceled only once every waiting
// caller has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewEngine creates an Engine primed with the snapshot persisted in the
// store.
func NewEngine(ctx context.Context, cfg *EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := cfg.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: loading cached snapshot: %w", err)
	}

	return &Engine{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		loader:  NewBatchLoader(cfg.Tasks, cfg.ChunkSize, cfg.ParallelFetches, logger),
		cache:   NewCache(snap),
		logger:  logger,
		nowFunc: time.Now,
		pending: make(map[task.ID]struct{}),
	}, nil
}

// Snapshot returns a copy of the current snapshot.
func (e *Engine) Snapshot() *task.Snapshot {
	return e.cache.Snapshot()
}

// Sync runs one cycle and returns the resulting snapshot:
//
//  1. Read the watermark (absent → fetch everything)
//  2. Capture the cycle start time
//  3. List changed IDs and add forceIDs
//  4. Batch-load the full records
//  5. Persist records and watermark atomically
//  6. Swap the merged snapshot into memory
//
// A failure at any step leaves both memory and disk as they were. Concurrent
// callers share one in-flight cycle; forceIDs that arrive after a cycle has
// started get a follow-up cycle before Sync returns. A caller canceling its
// ctx returns early; the cycle keeps running while anyone else waits on it.
func (e *Engine) Sync(ctx context.Context, forceIDs ...task.ID) (*task.Snapshot, error) {
	e.addPending(forceIDs)

	for {
		snap, shared, err := e.join(ctx)
		if err != nil {
			return nil, err
		}

		if !e.anyPending(forceIDs) {
			if shared {
				e.logger.Debug("joined in-flight sync cycle")
			}

			return snap, nil
		}
	}
}

// join waits for the cycle in flight, starting one when none is running.
// A caller whose ctx ends stops waiting without failing the others.
func (e *Engine) join(ctx context.Context) (*task.Snapshot, bool, error) {
	e.flightMu.Lock()

	f := e.flight
	if f != nil && f.ctx.Err() != nil {
		// Every earlier waiter left and the cycle is winding down.
		e.group.Forget(syncKey)
		f = nil
	}

	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		e.flight = f
	}

	f.waiters++

	ch := e.group.DoChan(syncKey, func() (any, error) {
		defer e.land(f)

		return e.runCycle(f.ctx)
	})

	e.flightMu.Unlock()

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Shared, r.Err
		}

		return r.Val.(*task.Snapshot), r.Shared, nil
	case <-ctx.Done():
		e.leave(f)

		return nil, false, fmt.Errorf("sync: waiting for cycle: %w", ctx.Err())
	}
}

// land retires f before its result is delivered, so callers arriving later
// start a fresh cycle instead of joining a finished one.
func (e *Engine) land(f *flight) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	if e.flight == f {
		e.flight = nil
		e.group.Forget(syncKey)
	}

	f.cancel()
}

func (e *Engine) leave(f *flight) {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

// Reset deletes the durable cache and clears memory. Cycles in flight when
// Reset runs return ErrStale.
func (e *Engine) Reset(ctx context.Context) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("sync: resetting cache: %w", err)
	}

	e.cache.Reset()
	e.logger.Info("local task cache cleared")

	return nil
}

func (e *Engine) runCycle(ctx context.Context) (*task.Snapshot, error) {
	start := e.nowFunc()
	gen := e.cache.Generation()
	forced := e.takePending()

	snap, err := e.cycle(ctx, start, gen, forced)
	if err != nil {
		// Forced IDs are not lost with a failed cycle.
		e.addPending(forced)

		if !errors.Is(err, ErrStale) && ctx.Err() == nil {
			e.logger.Warn("sync cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("duration", e.nowFunc().Sub(start)),
			)
		}

		return nil, err
	}

	return snap, nil
}

func (e *Engine) cycle(ctx context.Context, start time.Time, gen uint64, forced []task.ID) (*task.Snapshot, error) {
	// Absent and zero are the same: fetch everything.
	watermark, _ := e.store.Watermark(ctx)

	// Captured before fetching: changes made while the cycle runs are picked
	// up again by the next one.
	cycleStart := start.UTC()

	e.logger.Info("sync cycle starting",
		slog.String("watermark", formatWatermark(watermark)),
		slog.Int("forced", len(forced)),
	)

	changed, err := e.fetcher.ChangedTaskIDs(ctx, watermark)
	if err != nil {
		return nil, fmt.Errorf("sync: listing changed tasks: %w", err)
	}

	ids := task.UniqueIDs(changed, forced)

	updates, err := e.loader.Load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("sync: loading tasks: %w", err)
	}

	next := watermark
	if cycleStart.After(watermark) {
		next = cycleStart
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.cache.Generation() != gen {
		return nil, ErrStale
	}

	if err := e.store.Commit(ctx, updates, next); err != nil {
		return nil, fmt.Errorf("sync: persisting cycle: %w", err)
	}

	snap := e.cache.Merge(updates, next)

	e.logger.Info("sync cycle complete",
		slog.Int("changed", len(changed)),
		slog.Int("fetched", len(updates)),
		slog.Int("tasks", snap.Len()),
		slog.String("watermark", formatWatermark(next)),
		slog.Duration("duration", e.nowFunc().Sub(start)),
	)

	return snap, nil
}

func (e *Engine) addPending(ids []task.ID) {
	if len(ids) == 0 {
		return
	}

	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for _, id := range ids {
		if !id.IsZero() {
			e.pending[id] = struct{}{}
		}
	}
}

func (e *Engine) takePending() []task.ID {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	ids := make([]task.ID, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}

	clear(e.pending)

	return ids
}

func (e *Engine) anyPending(ids []task.ID) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	for _, id := range ids {
		if _, ok := e.pending[id]; ok {
			return true
		}
	}

	return false
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "none"
	}

	return task.FormatTimestamp(t)
}
