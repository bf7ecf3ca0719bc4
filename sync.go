package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/sync"
	"github.com/tonimelisma/firefly-go/internal/task"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch task changes from the portal into the local cache",
		Long: `Run one incremental sync cycle: fetch the IDs of tasks changed since
the last sync, load them in batches, and commit them to the local cache.

With --watch, keep syncing every sync.poll_interval until interrupted. Only
one watcher runs per data directory. --wake asks a running watcher to sync
immediately.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "keep syncing until interrupted")
	cmd.Flags().Bool("wake", false, "signal the running watcher to sync now")
	cmd.Flags().StringSlice("id", nil, "task IDs to re-fetch even if unchanged")
	cmd.MarkFlagsMutuallyExclusive("watch", "wake")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if wake, _ := cmd.Flags().GetBool("wake"); wake {
		if err := wakeWatcher(cc.PIDPath); err != nil {
			return err
		}

		cc.Statusf("Watcher signaled.\n")

		return nil
	}

	rawIDs, _ := cmd.Flags().GetStringSlice("id")

	ids, err := parseIDs(rawIDs)
	if err != nil {
		return err
	}

	s, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer s.Close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return runWatch(cmd.Context(), cc, s.Engine)
	}

	snap, err := s.Engine.Sync(cmd.Context(), ids...)
	if err != nil {
		return err
	}

	cc.Statusf("Synced: %d tasks cached.\n", snap.Len())

	return nil
}

// runWatch holds the watch lock for the watcher's lifetime and runs the
// engine's watch loop until the first SIGINT/SIGTERM. SIGHUP triggers an
// extra cycle, which the engine merges with any cycle already in flight.
func runWatch(parent context.Context, cc *CLIContext, engine *sync.Engine) error {
	lock, err := acquireWatchLock(cc.PIDPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, wake, stop := watchSignals(parent, cc.Logger)
	defer stop()

	go func() {
		for {
			select {
			case <-wake:
				if _, err := engine.Sync(ctx); err != nil && ctx.Err() == nil {
					cc.Logger.Warn("woken sync failed", slog.String("error", err.Error()))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	interval := cc.Cfg.Sync.PollDuration()
	cc.Statusf("Watching for task changes every %s (Ctrl-C to stop).\n", interval)

	return engine.Watch(ctx, interval, func(snap *task.Snapshot, err error) {
		if err == nil {
			cc.Statusf("Synced: %d tasks cached.\n", snap.Len())
		}
	})
}

// parseIDs converts --id values to task IDs.
func parseIDs(raw []string) ([]task.ID, error) {
	ids := make([]task.ID, 0, len(raw))

	for _, r := range raw {
		id, err := task.ParseID(r)
		if err != nil {
			return nil, fmt.Errorf("invalid task ID %q: %w", r, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
