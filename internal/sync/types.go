// Package sync keeps the local task snapshot consistent with the server. The
// Engine runs incremental cycles (changed IDs since the watermark, batched
// fetch, atomic persist) and the Controller applies user mutations
// optimistically on top of the same snapshot.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// Sentinel errors.
var (
	// ErrStale is returned by Sync when the cache was reset while the cycle
	// was in flight. The cycle's result is discarded.
	ErrStale = errors.New("sync: result is stale, cache was reset")

	// ErrUnknownTask is returned for a mutation on a task missing from the
	// local snapshot, or when the server no longer returns the task.
	ErrUnknownTask = errors.New("sync: unknown task")
)

// DeltaFetcher lists the tasks changed since a watermark.
type DeltaFetcher interface {
	// ChangedTaskIDs returns the IDs changed since the instant. The zero time
	// asks for every task.
	ChangedTaskIDs(ctx context.Context, since time.Time) ([]task.ID, error)
}

// TaskFetcher fetches full task records. Satisfied by *firefly.Client.
type TaskFetcher interface {
	TasksByIDs(ctx context.Context, ids []task.ID) ([]*task.Task, error)
}

// Submitter posts user mutations. Satisfied by *firefly.Client.
type Submitter interface {
	Submit(ctx context.Context, id task.ID, m firefly.Mutation) (firefly.SubmitResult, error)
}

// Store is the durable cache. Satisfied by *cache.Store.
type Store interface {
	Load(ctx context.Context) (*task.Snapshot, error)
	Watermark(ctx context.Context) (time.Time, bool)
	Commit(ctx context.Context, updates map[task.ID]*task.Task, watermark time.Time) error
	Put(ctx context.Context, updates map[task.ID]*task.Task) error
	Reset(ctx context.Context) error
}
