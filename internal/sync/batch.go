package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// Batch defaults. The API rejects byIds requests over 50 IDs.
const (
	DefaultChunkSize       = 50
	DefaultParallelFetches = 4
)

// BatchLoader fetches task records for an arbitrary ID set in bounded chunks.
type BatchLoader struct {
	fetcher   TaskFetcher
	chunkSize int
	parallel  int
	logger    *slog.Logger
}

// NewBatchLoader creates a loader. Non-positive chunkSize or parallel select
// the defaults.
func NewBatchLoader(fetcher TaskFetcher, chunkSize, parallel int, logger *slog.Logger) *BatchLoader {
	if chunkSize <= 0 || chunkSize > DefaultChunkSize {
		chunkSize = DefaultChunkSize
	}

	if parallel <= 0 {
		parallel = DefaultParallelFetches
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &BatchLoader{
		fetcher:   fetcher,
		chunkSize: chunkSize,
		parallel:  parallel,
		logger:    logger,
	}
}

// Load fetches every task in ids. The result is all-or-nothing: the first
// chunk failure cancels the others and no partial map is returned. An empty
// ID set makes no request.
func (b *BatchLoader) Load(ctx context.Context, ids []task.ID) (map[task.ID]*task.Task, error) {
	ids = task.UniqueIDs(ids)
	if len(ids) == 0 {
		return map[task.ID]*task.Task{}, nil
	}

	chunks := slices.Collect(slices.Chunk(ids, b.chunkSize))
	results := make([][]*task.Task, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)

	for i, chunk := range chunks {
		g.Go(func() error {
			tasks, err := b.fetcher.TasksByIDs(gctx, chunk)
			if err != nil {
				return fmt.Errorf("sync: fetching chunk %d of %d: %w", i+1, len(chunks), err)
			}

			results[i] = tasks

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[task.ID]*task.Task, len(ids))

	for _, tasks := range results {
		for _, t := range tasks {
			if t == nil || t.ID.IsZero() {
				continue
			}

			out[t.ID] = t
		}
	}

	b.logger.Debug("batch load complete",
		slog.Int("requested", len(ids)),
		slog.Int("chunks", len(chunks)),
		slog.Int("returned", len(out)),
	)

	return out, nil
}
