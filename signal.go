package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// watchSignals routes process signals for a watcher. The returned context is
// canceled by the first SIGINT or SIGTERM; a second one exits the process.
// Each SIGHUP is delivered on wake, coalesced while a previous wake is
// still unread. stop detaches the handlers.
func watchSignals(parent context.Context, logger *slog.Logger) (ctx context.Context, wake <-chan struct{}, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	wakeCh := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		interrupted := false

		for {
			var sig os.Signal

			select {
			case sig = <-sigs:
			case <-done:
				return
			case <-parent.Done():
				return
			}

			switch {
			case sig == syscall.SIGHUP:
				logger.Debug("wake requested")

				select {
				case wakeCh <- struct{}{}:
				default:
				}
			case !interrupted:
				interrupted = true

				logger.Info("stopping watcher", slog.String("signal", sig.String()))
				cancel()
			default:
				logger.Warn("second interrupt, exiting", slog.String("signal", sig.String()))
				os.Exit(1)
			}
		}
	}()

	return ctx, wakeCh, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}
