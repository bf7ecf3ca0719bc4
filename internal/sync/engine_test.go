package sync

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firefly-go/internal/task"
)

func TestNewEngine_PrimesFromStore(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Commit(context.Background(), map[task.ID]*task.Task{7: mkTask(7, "Cached")}, baseTime))

	e, _ := newTestEngine(t, newFakeServer(), store)

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, baseTime, snap.Watermark)
}

func TestSync_InitialSyncFetchesEverything(t *testing.T) {
	t.Parallel()

	ids := seqIDs(1, 120)
	srv := serverWith(ids)
	srv.setChanged(ids...)
	store := newMemStore()

	e, clock := newTestEngine(t, srv, store)

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, snap.Len())
	assert.Len(t, srv.batchCalls(), 3)

	// No watermark yet: the server is asked for everything.
	require.Len(t, srv.sinces, 1)
	assert.True(t, srv.sinces[0].IsZero())

	tasks, wm, ok := store.state()
	require.True(t, ok)
	assert.Len(t, tasks, 120)
	assert.Equal(t, clock.Now(), wm)
	assert.Equal(t, clock.Now(), snap.Watermark)
}

func TestSync_IncrementalUsesWatermark(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"), mkTask(2, "B"))
	store := newMemStore()
	e, clock := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	require.NoError(t, err)

	first := clock.Now()
	clock.Set(first.Add(time.Hour))
	srv.setChanged(2)
	srv.put(mkTask(2, "B v2"))
	srv.resetCalls()

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Time{first}, srv.sinces)
	assert.Equal(t, [][]task.ID{{2}}, srv.batchCalls())
	assert.Equal(t, "A", snap.Tasks[1].Title)
	assert.Equal(t, "B v2", snap.Tasks[2].Title)
	assert.Equal(t, first.Add(time.Hour), snap.Watermark)
}

func TestSync_ChunkFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ids := seqIDs(1, 120)
	srv := serverWith(ids)
	srv.setChanged(ids...)
	store := newMemStore()
	e, clock := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	require.NoError(t, err)

	before := e.Snapshot()
	beforeTasks, beforeWM, _ := store.state()
	commits := store.commits

	// Every task changed, and the second chunk fails.
	for _, id := range ids {
		srv.put(mkTask(id, "changed"))
	}

	boom := errors.New("chunk 2 unavailable")
	srv.batchErr = func(chunk []task.ID) error {
		if slices.Contains(chunk, 51) {
			return boom
		}

		return nil
	}
	clock.Set(clock.Now().Add(time.Hour))

	_, err = e.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, before, e.Snapshot())

	afterTasks, afterWM, _ := store.state()
	assert.Equal(t, beforeTasks, afterTasks)
	assert.Equal(t, beforeWM, afterWM)
	assert.Equal(t, commits, store.commits)
}

func TestSync_DeltaFailurePropagates(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	srv.changedErr = errors.New("offline")
	e, _ := newTestEngine(t, srv, newMemStore())

	_, err := e.Sync(context.Background())
	assert.ErrorIs(t, err, srv.changedErr)
	assert.Zero(t, e.Snapshot().Len())
}

func TestSync_CommitFailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	store := newMemStore()
	store.commitErr = errors.New("disk full")
	e, _ := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	assert.ErrorIs(t, err, store.commitErr)
	assert.Zero(t, e.Snapshot().Len())
	assert.True(t, e.Snapshot().Watermark.IsZero())
}

func TestSync_WatermarkNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	store := newMemStore()
	e, clock := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	require.NoError(t, err)

	first := clock.Now()

	// Clock skew: the next cycle starts "earlier".
	clock.Set(first.Add(-time.Hour))

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, snap.Watermark)

	_, wm, _ := store.state()
	assert.Equal(t, first, wm)
}

func TestSync_ForceIDsAreFetched(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	srv.put(mkTask(42, "Forced"))
	e, _ := newTestEngine(t, srv, newMemStore())

	snap, err := e.Sync(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, [][]task.ID{{1, 42}}, srv.batchCalls())
	assert.Equal(t, "Forced", snap.Tasks[42].Title)
}

func TestSync_ForceIDsDuringFlightGetFollowUp(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	srv.put(mkTask(42, "Forced"))
	e, _ := newTestEngine(t, srv, newMemStore())

	entered := make(chan struct{})
	release := make(chan struct{})
	first := true

	srv.onChanged = func() {
		if first {
			first = false
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)

	go func() {
		_, err := e.Sync(context.Background())
		done <- err
	}()

	<-entered

	second := make(chan *task.Snapshot, 1)

	go func() {
		snap, err := e.Sync(context.Background(), 42)
		assert.NoError(t, err)
		second <- snap
	}()

	// Let the second caller register its forced ID before the flight ends.
	require.Eventually(t, func() bool { return e.anyPending([]task.ID{42}) }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-done)

	snap := <-second
	require.NotNil(t, snap)
	assert.Equal(t, "Forced", snap.Tasks[42].Title)
}

func TestReset_DuringFlightReturnsStale(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	store := newMemStore()
	e, _ := newTestEngine(t, srv, store)

	entered := make(chan struct{})
	release := make(chan struct{})
	srv.onChanged = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)

	go func() {
		_, err := e.Sync(context.Background())
		done <- err
	}()

	<-entered
	require.NoError(t, e.Reset(context.Background()))
	close(release)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Zero(t, e.Snapshot().Len())

	tasks, _, ok := store.state()
	assert.Empty(t, tasks)
	assert.False(t, ok)
}

func TestReset_ClearsMemoryAndStore(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	store := newMemStore()
	e, _ := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Reset(context.Background()))

	assert.Zero(t, e.Snapshot().Len())

	_, _, ok := store.state()
	assert.False(t, ok)
}

func TestSnapshot_IsACopy(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	e, _ := newTestEngine(t, srv, newMemStore())

	_, err := e.Sync(context.Background())
	require.NoError(t, err)

	snap := e.Snapshot()
	delete(snap.Tasks, 1)

	assert.Equal(t, 1, e.Snapshot().Len())
}

func TestSync_LeaderCancelDoesNotFailJoinedCaller(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	e, _ := newTestEngine(t, srv, newMemStore())

	entered := make(chan struct{})
	release := make(chan struct{})
	first := true

	srv.onChanged = func() {
		if first {
			first = false
			close(entered)
			<-release
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leader := make(chan error, 1)

	go func() {
		_, err := e.Sync(leaderCtx)
		leader <- err
	}()

	<-entered

	follower := make(chan *task.Snapshot, 1)

	go func() {
		snap, err := e.Sync(context.Background())
		assert.NoError(t, err)
		follower <- snap
	}()

	require.Eventually(t, func() bool {
		e.flightMu.Lock()
		defer e.flightMu.Unlock()

		return e.flight != nil && e.flight.waiters == 2
	}, time.Second, time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(release)

	snap := <-follower
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Len())
	assert.Len(t, srv.batchCalls(), 1, "the shared cycle ran once")
}

func TestSync_AllCallersGoneCancelsCycle(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"))
	store := newMemStore()
	e, _ := newTestEngine(t, srv, store)

	entered := make(chan struct{})
	release := make(chan struct{})
	first := true

	srv.onChanged = func() {
		if first {
			first = false
			close(entered)
			<-release
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		_, err := e.Sync(ctx)
		done <- err
	}()

	<-entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)

	// The abandoned cycle stops at its next context check and commits nothing.
	require.Eventually(t, func() bool {
		e.flightMu.Lock()
		defer e.flightMu.Unlock()

		return e.flight == nil
	}, time.Second, time.Millisecond)

	_, _, hasWM := store.state()
	assert.False(t, hasWM)

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}
