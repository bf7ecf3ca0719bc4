package sync

import (
	"slices"
	stdsync "sync"
	"time"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// Cache is the in-memory snapshot shared by the Engine and the Controller.
// It also tracks optimistic overlays: events applied locally but not yet
// resolved by the server. Overlays survive merges, so a sync that lands
// while a mutation is in flight does not hide the user's pending change.
type Cache struct {
	mu         stdsync.RWMutex
	snap       *task.Snapshot
	overlays   map[task.ID][]task.Event
	generation uint64
}

// NewCache wraps snap, which the cache takes ownership of. A nil snap starts
// empty.
func NewCache(snap *task.Snapshot) *Cache {
	if snap == nil {
		snap = task.NewSnapshot()
	}

	return &Cache{
		snap:     snap,
		overlays: make(map[task.ID][]task.Event),
	}
}

// Snapshot returns a copy of the current snapshot. Tasks are immutable, so
// the copy shares them.
func (c *Cache) Snapshot() *task.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return task.Merge(c.snap, nil)
}

// Get returns the cached task with the given ID.
func (c *Cache) Get(id task.ID) (*task.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.snap.Tasks[id]

	return t, ok
}

// Generation identifies the cache contents' lineage. It changes on Reset.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation
}

// Merge replaces the updated tasks, sets the watermark, and re-asserts
// pending overlays onto the merged tasks. Returns the new snapshot copy.
func (c *Cache) Merge(updates map[task.ID]*task.Task, watermark time.Time) *task.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := task.Merge(c.snap, updates)
	merged.Watermark = watermark

	for id := range updates {
		merged.Tasks[id] = c.withOverlays(id, merged.Tasks[id])
	}

	c.snap = merged

	return task.Merge(c.snap, nil)
}

// Reset clears every task, overlay and the watermark and bumps the
// generation so in-flight cycles discard their results.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap = task.NewSnapshot()
	c.overlays = make(map[task.ID][]task.Event)
	c.generation++
}

// load replaces the whole snapshot, as when priming from disk.
func (c *Cache) load(snap *task.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap = snap
}

// applyOverlay appends ev to task id and registers it as an overlay. It
// returns the task before and after the change; ok is false when the task
// is not cached.
func (c *Cache) applyOverlay(id task.ID, ev task.Event) (prior, applied *task.Task, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior, ok = c.snap.Tasks[id]
	if !ok {
		return nil, nil, false
	}

	applied = prior.WithEvent(ev)
	c.snap.Tasks[id] = applied
	c.overlays[id] = append(c.overlays[id], ev)

	return prior, applied, true
}

// rollback drops overlay guid from task id. When nothing has replaced the
// task since applyOverlay, the exact prior task is restored; otherwise the
// optimistic event is removed from whatever version is now cached.
func (c *Cache) rollback(id task.ID, guid string, prior, applied *task.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropOverlay(id, guid)

	cur, ok := c.snap.Tasks[id]
	if !ok {
		return
	}

	if cur == applied {
		c.snap.Tasks[id] = prior

		return
	}

	c.snap.Tasks[id], _ = cur.WithoutEvent(guid)
}

// confirm resolves overlay guid. With a server event the placeholder is
// swapped for it; without one the placeholder stays until the next sync
// replaces the task.
func (c *Cache) confirm(id task.ID, guid string, server *task.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropOverlay(id, guid)

	cur, ok := c.snap.Tasks[id]
	if !ok || server == nil {
		return
	}

	if cur.HasEvent(server.GUID) {
		// A sync already delivered the server's record.
		c.snap.Tasks[id], _ = cur.WithoutEvent(guid)

		return
	}

	if replaced, ok := cur.ReplaceEvent(guid, *server); ok {
		c.snap.Tasks[id] = replaced

		return
	}

	c.snap.Tasks[id] = cur.WithEvent(*server)
}

// replace installs the server's version of task id, dropping overlay guid
// and keeping any other pending overlays. A task no longer cached is not
// brought back; replace then reports false.
func (c *Cache) replace(id task.ID, guid string, t *task.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropOverlay(id, guid)

	if _, ok := c.snap.Tasks[id]; !ok {
		return false
	}

	c.snap.Tasks[id] = c.withOverlays(id, t)

	return true
}

func (c *Cache) dropOverlay(id task.ID, guid string) {
	evs := slices.DeleteFunc(c.overlays[id], func(e task.Event) bool { return e.GUID == guid })
	if len(evs) == 0 {
		delete(c.overlays, id)

		return
	}

	c.overlays[id] = evs
}

// withOverlays appends the pending overlays of id that t does not already
// carry. Caller holds mu.
func (c *Cache) withOverlays(id task.ID, t *task.Task) *task.Task {
	for _, ev := range c.overlays[id] {
		if !t.HasEvent(ev.GUID) {
			t = t.WithEvent(ev)
		}
	}

	return t
}
