package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tonimelisma/firefly-go/internal/task"
)

// DefaultPollInterval matches the portal's own refresh period.
const DefaultPollInterval = 5 * time.Minute

// Backoff for consecutive failed cycles in watch mode. Below the threshold
// the regular interval applies.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their delay: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// CycleFunc observes the outcome of each watch cycle. Exactly one of snap
// and err is non-nil.
type CycleFunc func(snap *task.Snapshot, err error)

// Watch runs Sync immediately and then every interval until ctx is canceled.
// Failed cycles are logged and retried; after repeated failures the delay
// grows per backoffSteps. Returns nil on clean shutdown.
func (e *Engine) Watch(ctx context.Context, interval time.Duration, onCycle CycleFunc) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	e.logger.Info("watch mode starting", slog.Duration("poll_interval", interval))

	failures := 0

	for {
		snap, err := e.Sync(ctx)

		switch {
		case ctx.Err() != nil:
			e.logger.Info("watch mode stopped")

			return nil
		case err != nil:
			failures++

			if !errors.Is(err, ErrStale) {
				e.logger.Warn("watch cycle failed",
					slog.Int("consecutive_failures", failures),
					slog.String("error", err.Error()),
				)
			}
		default:
			failures = 0
		}

		if onCycle != nil {
			onCycle(snap, err)
		}

		delay := interval
		if b := backoffDuration(failures); b > delay {
			delay = b
		}

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("watch mode stopped")

			return nil
		case <-timer.C:
		}
	}
}

// backoffDuration returns the delay for the given number of consecutive
// failures. Returns 0 below backoffThreshold.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}
