package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// syncedEngine returns an engine whose snapshot holds the server's tasks.
func syncedEngine(t *testing.T, srv *fakeServer, store *memStore) *Engine {
	t.Helper()

	e, _ := newTestEngine(t, srv, store)

	_, err := e.Sync(context.Background())
	require.NoError(t, err)

	srv.resetCalls()

	return e
}

func TestController_MarkDoneConfirmedKeepsOptimisticEvent(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())
	c := newTestController(t, e, &fakeSubmitter{})

	res, err := c.MarkDone(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
	require.NotNil(t, res.Event)
	assert.True(t, strings.HasPrefix(res.Event.GUID, optimisticPrefix))
	assert.Equal(t, "Ada Student", res.Event.Author)

	got := e.Snapshot().Tasks[42]
	assert.True(t, got.IsDone())
	assert.True(t, got.HasEvent(res.Event.GUID))
	assert.Empty(t, srv.batchCalls())
}

func TestController_OptimisticEventReplacedByNextSync(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())
	c := newTestController(t, e, &fakeSubmitter{})

	res, err := c.MarkDone(context.Background(), 42)
	require.NoError(t, err)

	server := mkTask(42, "Essay", task.Event{
		Type: task.EventMarkDone, GUID: "EV-1", Author: "Ada Student", Released: baseTime.Add(48 * time.Hour),
	})
	srv.put(server)
	srv.setChanged(42)

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server, snap.Tasks[42])
	assert.False(t, snap.Tasks[42].HasEvent(res.Event.GUID))
}

func TestController_CommentConfirmedReplacesPlaceholder(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())

	serverEv := task.NewCommentEvent("Ada Student", "hello", baseTime.Add(49*time.Hour))
	serverEv.GUID = "EV-9"

	sub := &fakeSubmitter{fn: func(_ context.Context, _ task.ID, m firefly.Mutation) (firefly.SubmitResult, error) {
		assert.Equal(t, "hello", m.Message)

		return firefly.Confirmed{Event: &serverEv}, nil
	}}
	c := newTestController(t, e, sub)

	res, err := c.AddComment(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, &serverEv, res.Event)

	got := e.Snapshot().Tasks[42]
	require.Len(t, got.Events, 2)
	assert.Equal(t, serverEv, got.Events[1])
	assert.False(t, got.HasEvent(optimisticPrefix+"g1"))
}

func TestController_AddFileSubmitsUpload(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())

	sub := &fakeSubmitter{fn: func(_ context.Context, _ task.ID, m firefly.Mutation) (firefly.SubmitResult, error) {
		require.NotNil(t, m.Upload)
		assert.Equal(t, task.EventAddFile, m.Type)
		assert.Equal(t, "essay.pdf", m.Upload.Name)

		return firefly.Confirmed{}, nil
	}}
	c := newTestController(t, e, sub)

	res, err := c.AddFile(context.Background(), 42, firefly.Upload{Name: "essay.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, task.FileAdded{File: task.File{FileName: "essay.pdf"}}, res.Event.Payload)
}

func TestController_TransportFailureRollsBack(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())
	before := e.Snapshot()

	transport := fmt.Errorf("posting: %w", firefly.ErrServerError)
	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		// The optimistic event is visible while the request is in flight.
		assert.True(t, e.Snapshot().Tasks[42].IsDone())

		return nil, transport
	}}
	c := newTestController(t, e, sub)

	res, err := c.MarkDone(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, firefly.ErrServerError)
	assert.Equal(t, StateRolledBack, res.State)
	assert.Nil(t, res.Event)

	assert.Equal(t, before, e.Snapshot())
	assert.Empty(t, e.cache.overlays)
}

func TestController_AlreadySetForcesExactlyOneFetch(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	store := newMemStore()
	e := syncedEngine(t, srv, store)
	_, wmBefore, _ := store.state()

	// The server already has the task done from another device.
	server := mkTask(42, "Essay", task.Event{
		Type: task.EventMarkDone, GUID: "EV-OTHER", Author: "Ada Student", Released: baseTime.Add(time.Hour),
	})
	srv.put(server)

	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		return firefly.AlreadySet{}, nil
	}}
	c := newTestController(t, e, sub)

	res, err := c.MarkDone(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, res.State)
	assert.Equal(t, [][]task.ID{{42}}, srv.batchCalls())

	assert.Equal(t, server, e.Snapshot().Tasks[42])

	tasks, wmAfter, _ := store.state()
	assert.Equal(t, server, tasks[42])
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, wmBefore, wmAfter)
}

func TestController_AlreadySetFetchFailureRollsBack(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())
	before := e.Snapshot()

	boom := errors.New("fetch failed")
	srv.batchErr = func([]task.ID) error { return boom }

	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		return firefly.AlreadySet{}, nil
	}}
	c := newTestController(t, e, sub)

	res, err := c.Archive(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateRolledBack, res.State)
	assert.Equal(t, before, e.Snapshot())
}

func TestController_AlreadySetAfterResetDoesNotRepopulate(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(7, "Essay"))
	store := newMemStore()
	e := syncedEngine(t, srv, store)

	sub := &fakeSubmitter{fn: func(ctx context.Context, _ task.ID, _ firefly.Mutation) (firefly.SubmitResult, error) {
		// Logout lands while the submit is in flight.
		require.NoError(t, e.Reset(ctx))

		return firefly.AlreadySet{}, nil
	}}
	c := newTestController(t, e, sub)

	res, err := c.MarkDone(context.Background(), 7)
	require.ErrorIs(t, err, ErrStale)
	assert.Equal(t, StateRolledBack, res.State)

	_, cached := e.Snapshot().Get(7)
	assert.False(t, cached, "reset cache must stay empty")

	tasks, _, hasWM := store.state()
	assert.Empty(t, tasks)
	assert.False(t, hasWM)
	assert.Zero(t, store.puts)
}

func TestCache_ReplaceSkipsEvictedTask(t *testing.T) {
	t.Parallel()

	c := NewCache(task.NewSnapshot())

	assert.False(t, c.replace(7, "g1", mkTask(7, "Essay")))

	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestController_UnknownTask(t *testing.T) {
	t.Parallel()

	e := syncedEngine(t, newFakeServer(), newMemStore())
	sub := &fakeSubmitter{}
	c := newTestController(t, e, sub)

	res, err := c.MarkUndone(context.Background(), 99)
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Equal(t, StateIdle, res.State)
	assert.Zero(t, sub.callCount())
}

func TestController_SameTaskMutationsSerialize(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())

	var active, peak atomic.Int32

	release := make(chan struct{})
	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		n := active.Add(1)
		defer active.Add(-1)

		if n > peak.Load() {
			peak.Store(n)
		}

		<-release

		return firefly.Confirmed{}, nil
	}}
	c := newTestController(t, e, sub)

	var wg stdsync.WaitGroup

	results := make([]MutationResult, 2)

	wg.Add(1)

	go func() {
		defer wg.Done()

		results[0], _ = c.MarkDone(context.Background(), 42)
	}()

	require.Eventually(t, func() bool { return sub.callCount() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)

	go func() {
		defer wg.Done()

		results[1], _ = c.AddComment(context.Background(), 42, "second")
	}()

	// The second mutation queues on the task's lock without submitting.
	require.Eventually(t, func() bool { return c.locks.refs(42) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, sub.callCount())

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 2, sub.callCount())
	assert.Equal(t, StateConfirmed, results[0].State)
	assert.Equal(t, StateConfirmed, results[1].State)
	assert.Zero(t, c.locks.refs(42))
}

func TestController_DifferentTasksRunInParallel(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(1, "A"), mkTask(2, "B"))
	e := syncedEngine(t, srv, newMemStore())

	var active atomic.Int32

	release := make(chan struct{})
	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		active.Add(1)
		<-release

		return firefly.Confirmed{}, nil
	}}
	c := newTestController(t, e, sub)

	var wg stdsync.WaitGroup

	for _, id := range []task.ID{1, 2} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := c.MarkDone(context.Background(), id)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return active.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
}

func TestController_WaitingMutationHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())

	release := make(chan struct{})
	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		<-release

		return firefly.Confirmed{}, nil
	}}
	c := newTestController(t, e, sub)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, _ = c.MarkDone(context.Background(), 42)
	}()

	require.Eventually(t, func() bool { return sub.callCount() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.MarkUndone(ctx, 42)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, res.State)

	close(release)
	<-done
}

func TestController_OverlaySurvivesConcurrentSync(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(mkTask(42, "Essay"))
	e := syncedEngine(t, srv, newMemStore())

	serverEv := task.NewCommentEvent("Ada Student", "hi", baseTime.Add(50*time.Hour))
	serverEv.GUID = "EV-C"

	entered := make(chan struct{})
	release := make(chan struct{})
	sub := &fakeSubmitter{fn: func(context.Context, task.ID, firefly.Mutation) (firefly.SubmitResult, error) {
		close(entered)
		<-release

		return firefly.Confirmed{Event: &serverEv}, nil
	}}
	c := newTestController(t, e, sub)

	done := make(chan MutationResult, 1)

	go func() {
		res, err := c.AddComment(context.Background(), 42, "hi")
		assert.NoError(t, err)
		done <- res
	}()

	<-entered

	// A sync delivers a newer copy of the task that lacks the comment.
	srv.put(mkTask(42, "Essay (edited)"))
	srv.setChanged(42)

	snap, err := e.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Essay (edited)", snap.Tasks[42].Title)
	assert.True(t, snap.Tasks[42].HasEvent(optimisticPrefix+"g1"), "pending comment must stay visible")

	close(release)
	<-done

	got := e.Snapshot().Tasks[42]
	assert.True(t, got.HasEvent("EV-C"))
	assert.False(t, got.HasEvent(optimisticPrefix+"g1"))
	assert.Equal(t, "Essay (edited)", got.Title)
}

func TestMutationState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "applied", StateApplied.String())
	assert.Equal(t, "confirmed", StateConfirmed.String())
	assert.Equal(t, "rolled-back", StateRolledBack.String())
	assert.Equal(t, "state(9)", MutationState(9).String())
}
