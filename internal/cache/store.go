// Package cache persists the local task snapshot and the sync watermark in a
// SQLite database. Store is the sole writer; every write that touches both
// tasks and the watermark happens in one transaction.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// SQL statements for cache operations.
const (
	sqlLoadTasks = `SELECT id, body FROM tasks`

	sqlUpsertTask = `INSERT INTO tasks (id, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 body = excluded.body,
		 updated_at = excluded.updated_at`

	sqlGetWatermark = `SELECT value FROM watermark WHERE id = 1`

	sqlUpsertWatermark = `INSERT INTO watermark (id, value, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDeleteTasks     = `DELETE FROM tasks`
	sqlDeleteTask      = `DELETE FROM tasks WHERE id = ?`
	sqlDeleteWatermark = `DELETE FROM watermark`
)

// watermarkLayout keeps full precision so a stored watermark round-trips
// exactly.
const watermarkLayout = time.RFC3339Nano

// Store is the durable half of the local cache.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens the SQLite database at dbPath, runs migrations, and returns a
// ready-to-use store. The database uses WAL mode with synchronous=FULL for
// crash-safe durability.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("task cache opened", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cache: closing database: %w", err)
	}

	return nil
}

// Load reads every cached task and the watermark. Rows that fail to decode
// are deleted together with the stored watermark, so the next sync
// refetches everything instead of trusting a cache with holes in it.
func (s *Store) Load(ctx context.Context) (*task.Snapshot, error) {
	snap, damaged, err := s.loadTasks(ctx)
	if err != nil {
		return nil, err
	}

	if len(damaged) > 0 {
		if err := s.discard(ctx, damaged); err != nil {
			return nil, err
		}
	} else if wm, ok := s.Watermark(ctx); ok {
		snap.Watermark = wm
	}

	s.logger.Debug("task cache loaded",
		slog.Int("tasks", snap.Len()),
		slog.Int("damaged", len(damaged)),
	)

	return snap, nil
}

// loadTasks decodes every task row. IDs of undecodable rows are returned
// separately. The rows are closed before returning: the pool has a single
// connection.
func (s *Store) loadTasks(ctx context.Context) (*task.Snapshot, []int64, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadTasks)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: loading tasks: %w", err)
	}
	defer rows.Close()

	snap := task.NewSnapshot()

	var damaged []int64

	for rows.Next() {
		var (
			id   int64
			body string
		)

		if err := rows.Scan(&id, &body); err != nil {
			return nil, nil, fmt.Errorf("cache: scanning task row: %w", err)
		}

		var t task.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			s.logger.Warn("dropping undecodable cached task",
				slog.Int64("task_id", id),
				slog.String("error", err.Error()),
			)

			damaged = append(damaged, id)

			continue
		}

		snap.Tasks[task.ID(id)] = &t
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("cache: iterating task rows: %w", err)
	}

	return snap, damaged, nil
}

// discard deletes the damaged rows and the watermark in one transaction.
func (s *Store) discard(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: beginning repair transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, sqlDeleteTask, id); err != nil {
			return fmt.Errorf("cache: deleting damaged task %d: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteWatermark); err != nil {
		return fmt.Errorf("cache: clearing watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing repair: %w", err)
	}

	s.logger.Warn("damaged task cache repaired, full resync required",
		slog.Int("dropped", len(ids)),
	)

	return nil
}

// Watermark returns the stored watermark. Storage errors and corrupt values
// are logged and reported as absent: the caller must then resync in full.
func (s *Store) Watermark(ctx context.Context) (time.Time, bool) {
	var raw string

	err := s.db.QueryRowContext(ctx, sqlGetWatermark).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false
	}

	if err != nil {
		s.logger.Warn("watermark unreadable, full resync required", slog.String("error", err.Error()))

		return time.Time{}, false
	}

	wm, err := time.Parse(watermarkLayout, raw)
	if err != nil {
		s.logger.Warn("watermark corrupt, full resync required",
			slog.String("value", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}, false
	}

	return wm, true
}

// SetWatermark stores wm. No monotonicity check is made here; the sync
// engine only ever passes non-decreasing values.
func (s *Store) SetWatermark(ctx context.Context, wm time.Time) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertWatermark, wm.UTC().Format(watermarkLayout), s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("cache: saving watermark: %w", err)
	}

	return nil
}

// Commit atomically upserts updates and stores the watermark. Either both
// land or neither does.
func (s *Store) Commit(ctx context.Context, updates map[task.ID]*task.Task, wm time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertTasks(ctx, tx, updates); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, sqlUpsertWatermark, wm.UTC().Format(watermarkLayout), s.nowFunc().Unix()); err != nil {
		return fmt.Errorf("cache: saving watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing transaction: %w", err)
	}

	s.logger.Debug("task cache committed",
		slog.Int("updated", len(updates)),
		slog.String("watermark", wm.UTC().Format(watermarkLayout)),
	)

	return nil
}

// Put upserts tasks without touching the watermark. Used for single-task
// refreshes that are not complete syncs.
func (s *Store) Put(ctx context.Context, updates map[task.ID]*task.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: beginning put transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.upsertTasks(ctx, tx, updates); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing transaction: %w", err)
	}

	return nil
}

// Reset deletes every cached task and the watermark in one transaction.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlDeleteTasks); err != nil {
		return fmt.Errorf("cache: clearing tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteWatermark); err != nil {
		return fmt.Errorf("cache: clearing watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: committing reset: %w", err)
	}

	s.logger.Info("task cache reset")

	return nil
}

func (s *Store) upsertTasks(ctx context.Context, tx *sql.Tx, updates map[task.ID]*task.Task) error {
	now := s.nowFunc().Unix()

	for id, t := range updates {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("cache: encoding task %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertTask, int64(id), string(body), now); err != nil {
			return fmt.Errorf("cache: saving task %s: %w", id, err)
		}
	}

	return nil
}
