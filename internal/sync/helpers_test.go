package sync

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func mkTask(id task.ID, title string, events ...task.Event) *task.Task {
	return &task.Task{
		ID:      id,
		Title:   title,
		Setter:  task.Person{Name: "Mr Teacher", GUID: "T1"},
		SetDate: baseTime,
		Events:  append([]task.Event{task.NewStatusEvent(task.EventSetTask, "Mr Teacher", baseTime)}, events...),
	}
}

// fakeServer implements DeltaFetcher and TaskFetcher over an in-memory task
// set. Every call is recorded.
type fakeServer struct {
	mu      stdsync.Mutex
	tasks   map[task.ID]*task.Task
	changed []task.ID
	sinces  []time.Time
	batches [][]task.ID

	changedErr error
	batchErr   func(ids []task.ID) error
	onChanged  func() // runs outside the lock before ChangedTaskIDs returns
}

func newFakeServer(tasks ...*task.Task) *fakeServer {
	s := &fakeServer{tasks: make(map[task.ID]*task.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
		s.changed = append(s.changed, t.ID)
	}

	return s
}

func (s *fakeServer) ChangedTaskIDs(ctx context.Context, since time.Time) ([]task.ID, error) {
	s.mu.Lock()
	s.sinces = append(s.sinces, since)
	ids, err, hook := slices.Clone(s.changed), s.changedErr, s.onChanged
	s.mu.Unlock()

	if hook != nil {
		hook()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (s *fakeServer) TasksByIDs(_ context.Context, ids []task.ID) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, slices.Clone(ids))

	if s.batchErr != nil {
		if err := s.batchErr(ids); err != nil {
			return nil, err
		}
	}

	var out []*task.Task

	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}

	return out, nil
}

func (s *fakeServer) put(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = t
}

func (s *fakeServer) setChanged(ids ...task.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changed = ids
}

func (s *fakeServer) batchCalls() [][]task.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.batches)
}

func (s *fakeServer) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = nil
	s.sinces = nil
}

// memStore is an in-memory Store.
type memStore struct {
	mu        stdsync.Mutex
	tasks     map[task.ID]*task.Task
	watermark time.Time
	hasWM     bool
	commits   int
	puts      int
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[task.ID]*task.Task)}
}

func (m *memStore) Load(context.Context) (*task.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := task.NewSnapshot()
	maps.Copy(snap.Tasks, m.tasks)

	if m.hasWM {
		snap.Watermark = m.watermark
	}

	return snap, nil
}

func (m *memStore) Watermark(context.Context) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.watermark, m.hasWM
}

func (m *memStore) Commit(_ context.Context, updates map[task.ID]*task.Task, wm time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return m.commitErr
	}

	maps.Copy(m.tasks, updates)
	m.watermark, m.hasWM = wm, true
	m.commits++

	return nil
}

func (m *memStore) Put(_ context.Context, updates map[task.ID]*task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	maps.Copy(m.tasks, updates)
	m.puts++

	return nil
}

func (m *memStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks = make(map[task.ID]*task.Task)
	m.watermark, m.hasWM = time.Time{}, false

	return nil
}

func (m *memStore) state() (map[task.ID]*task.Task, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.tasks), m.watermark, m.hasWM
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

// fakeSubmitter delegates to fn and counts calls.
type fakeSubmitter struct {
	mu    stdsync.Mutex
	calls []firefly.Mutation
	fn    func(ctx context.Context, id task.ID, m firefly.Mutation) (firefly.SubmitResult, error)
}

func (s *fakeSubmitter) Submit(ctx context.Context, id task.ID, m firefly.Mutation) (firefly.SubmitResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, m)
	s.mu.Unlock()

	if s.fn == nil {
		return firefly.Confirmed{}, nil
	}

	return s.fn(ctx, id, m)
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}

// newTestEngine builds an Engine over srv and store with a fixed clock.
func newTestEngine(t *testing.T, srv *fakeServer, store *memStore) (*Engine, *fakeClock) {
	t.Helper()

	e, err := NewEngine(context.Background(), &EngineConfig{
		Store:   store,
		Fetcher: srv,
		Tasks:   srv,
		Logger:  testLogger(t),
	})
	require.NoError(t, err)

	clock := &fakeClock{now: baseTime.Add(24 * time.Hour)}
	e.nowFunc = clock.Now

	return e, clock
}

// newTestController builds a Controller over e with deterministic GUIDs.
func newTestController(t *testing.T, e *Engine, sub Submitter) *Controller {
	t.Helper()

	c := NewController(e, sub, "Ada Student", testLogger(t))
	c.nowFunc = func() time.Time { return baseTime.Add(48 * time.Hour) }

	var (
		mu stdsync.Mutex
		n  int
	)

	c.guidFunc = func() string {
		mu.Lock()
		defer mu.Unlock()

		n++

		return "g" + strconv.Itoa(n)
	}

	return c
}
