package sync

import (
	"context"
	stdsync "sync"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// keyedMutex grants at most one holder per task ID. Waiters queue until the
// holder unlocks or their context ends. Entries are removed once no holder or
// waiter references them.
type keyedMutex struct {
	mu    stdsync.Mutex
	locks map[task.ID]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{} // capacity 1: full while held
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[task.ID]*keyedEntry)}
}

// Lock blocks until id is free and returns the function releasing it.
func (k *keyedMutex) Lock(ctx context.Context, id task.ID) (func(), error) {
	k.mu.Lock()

	e, ok := k.locks[id]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[id] = e
	}

	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once stdsync.Once

		return func() {
			once.Do(func() {
				<-e.sem
				k.release(id, e)
			})
		}, nil
	case <-ctx.Done():
		k.release(id, e)

		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(id task.ID, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
}
