package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/task"
)

// optimisticPrefix marks event GUIDs minted locally for unconfirmed events.
const optimisticPrefix = "optimistic-"

// MutationState is the lifecycle position of one optimistic mutation.
type MutationState int

// Mutation lifecycle: Idle → Applied → Confirmed | RolledBack.
const (
	StateIdle MutationState = iota
	StateApplied
	StateConfirmed
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplied:
		return "applied"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MutationResult reports how a mutation ended. Event is the event now in the
// snapshot: the server's record, or the optimistic one when the server sent
// none. It is nil after a rollback or a forced refresh.
type MutationResult struct {
	TaskID task.ID
	State  MutationState
	Event  *task.Event
}

// Controller applies user mutations to the Engine's snapshot before the
// server confirms them, then resolves each one to confirmed or rolled back.
// Mutations on one task run one at a time; different tasks run in parallel.
type Controller struct {
	engine    *Engine
	submitter Submitter
	author    string
	locks     *keyedMutex
	logger    *slog.Logger
	nowFunc   func() time.Time
	guidFunc  func() string
}

// NewController creates a Controller. author names the current user on
// optimistic events.
func NewController(engine *Engine, submitter Submitter, author string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		engine:    engine,
		submitter: submitter,
		author:    author,
		locks:     newKeyedMutex(),
		logger:    logger,
		nowFunc:   time.Now,
		guidFunc:  uuid.NewString,
	}
}

// MarkDone marks task id as done.
func (c *Controller) MarkDone(ctx context.Context, id task.ID) (MutationResult, error) {
	return c.status(ctx, id, task.EventMarkDone)
}

// MarkUndone marks task id as to-do.
func (c *Controller) MarkUndone(ctx context.Context, id task.ID) (MutationResult, error) {
	return c.status(ctx, id, task.EventMarkUndone)
}

// Archive hides task id from the default listing.
func (c *Controller) Archive(ctx context.Context, id task.ID) (MutationResult, error) {
	return c.status(ctx, id, task.EventArchive)
}

// Unarchive restores an archived task.
func (c *Controller) Unarchive(ctx context.Context, id task.ID) (MutationResult, error) {
	return c.status(ctx, id, task.EventUnarchive)
}

// AddComment posts a comment on task id.
func (c *Controller) AddComment(ctx context.Context, id task.ID, message string) (MutationResult, error) {
	ev := task.NewCommentEvent(c.author, message, c.nowFunc().UTC())

	return c.mutate(ctx, id, firefly.Mutation{Type: task.EventComment, Message: message}, ev)
}

// AddFile uploads up and attaches it to task id.
func (c *Controller) AddFile(ctx context.Context, id task.ID, up firefly.Upload) (MutationResult, error) {
	ev := task.NewFileEvent(c.author, task.File{FileName: up.Name}, c.nowFunc().UTC())

	return c.mutate(ctx, id, firefly.Mutation{Type: task.EventAddFile, Upload: &up}, ev)
}

func (c *Controller) status(ctx context.Context, id task.ID, t task.EventType) (MutationResult, error) {
	ev := task.NewStatusEvent(t, c.author, c.nowFunc().UTC())

	return c.mutate(ctx, id, firefly.Mutation{Type: t}, ev)
}

// mutate drives one mutation through its lifecycle: apply ev locally,
// submit m, then confirm or roll back.
func (c *Controller) mutate(ctx context.Context, id task.ID, m firefly.Mutation, ev task.Event) (MutationResult, error) {
	res := MutationResult{TaskID: id, State: StateIdle}

	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return res, fmt.Errorf("sync: waiting for pending mutation on task %s: %w", id, err)
	}
	defer unlock()

	ev.GUID = optimisticPrefix + c.guidFunc()
	gen := c.engine.cache.Generation()

	prior, applied, ok := c.engine.cache.applyOverlay(id, ev)
	if !ok {
		return res, fmt.Errorf("sync: %s task %s: %w", m.Type, id, ErrUnknownTask)
	}

	res.State = StateApplied

	c.logger.Debug("optimistic mutation applied",
		slog.String("task_id", id.String()),
		slog.String("event_type", m.Type.String()),
		slog.String("event_guid", ev.GUID),
	)

	result, err := c.submitter.Submit(ctx, id, m)
	if err != nil {
		return c.rollback(res, ev.GUID, prior, applied, fmt.Errorf("sync: %s task %s: %w", m.Type, id, err))
	}

	switch r := result.(type) {
	case firefly.AlreadySet:
		return c.refresh(ctx, res, gen, ev.GUID, prior, applied)
	case firefly.Confirmed:
		c.engine.cache.confirm(id, ev.GUID, r.Event)

		res.State = StateConfirmed
		res.Event = r.Event

		if res.Event == nil {
			res.Event = &ev
		}

		c.logger.Info("mutation confirmed",
			slog.String("task_id", id.String()),
			slog.String("event_type", m.Type.String()),
			slog.Bool("server_event", r.Event != nil),
		)

		return res, nil
	default:
		return c.rollback(res, ev.GUID, prior, applied,
			fmt.Errorf("sync: %s task %s: unexpected submit result %T", m.Type, id, result))
	}
}

// refresh replaces the task with the server's copy after the server reported
// it was already in the requested state. Exactly one fetch is made, and the
// watermark is left alone: this is not a full cycle. A Reset since the
// mutation started (gen changed) discards the fetched copy with ErrStale.
func (c *Controller) refresh(
	ctx context.Context, res MutationResult, gen uint64, guid string, prior, applied *task.Task,
) (MutationResult, error) {
	id := res.TaskID

	fetched, err := c.engine.loader.Load(ctx, []task.ID{id})
	if err != nil {
		return c.rollback(res, guid, prior, applied, fmt.Errorf("sync: refreshing task %s: %w", id, err))
	}

	t, ok := fetched[id]
	if !ok {
		return c.rollback(res, guid, prior, applied, fmt.Errorf("sync: refreshing task %s: %w", id, ErrUnknownTask))
	}

	c.engine.commitMu.Lock()
	defer c.engine.commitMu.Unlock()

	if c.engine.cache.Generation() != gen {
		return c.rollback(res, guid, prior, applied, fmt.Errorf("sync: refreshing task %s: %w", id, ErrStale))
	}

	if err := c.engine.store.Put(ctx, map[task.ID]*task.Task{id: t}); err != nil {
		return c.rollback(res, guid, prior, applied, fmt.Errorf("sync: persisting task %s: %w", id, err))
	}

	if !c.engine.cache.replace(id, guid, t) {
		return c.rollback(res, guid, prior, applied, fmt.Errorf("sync: refreshing task %s: %w", id, ErrUnknownTask))
	}

	res.State = StateConfirmed

	c.logger.Info("task status already set, refreshed from server",
		slog.String("task_id", id.String()),
	)

	return res, nil
}

func (c *Controller) rollback(
	res MutationResult, guid string, prior, applied *task.Task, cause error,
) (MutationResult, error) {
	c.engine.cache.rollback(res.TaskID, guid, prior, applied)

	res.State = StateRolledBack
	res.Event = nil

	c.logger.Warn("mutation rolled back",
		slog.String("task_id", res.TaskID.String()),
		slog.String("error", cause.Error()),
	)

	return res, cause
}
