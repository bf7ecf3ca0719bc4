package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// for "config show", after every override layer has been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.Path)

	ew.printf("[account]\n")
	ew.printf("  school_code      = %q\n", r.Account.SchoolCode)
	ew.printf("  hostname         = %q\n", r.Account.Hostname)

	if r.Account.DeviceID != "" {
		ew.printf("  device_id        = %q\n", r.Account.DeviceID)
	}

	ew.printf("\n[sync]\n")
	ew.printf("  batch_size       = %d\n", r.Sync.BatchSize)
	ew.printf("  parallel_fetches = %d\n", r.Sync.ParallelFetches)
	ew.printf("  poll_interval    = %q\n", r.Sync.PollInterval)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level        = %q\n", r.Logging.LogLevel)
	ew.printf("  log_file         = %q\n", r.Logging.LogFile)

	ew.printf("\n[network]\n")
	ew.printf("  timeout          = %q\n", r.Network.Timeout)
	ew.printf("  max_retries      = %d\n", r.Network.MaxRetries)

	if r.Network.UserAgent != "" {
		ew.printf("  user_agent       = %q\n", r.Network.UserAgent)
	}

	if r.Network.GatewayURL != "" {
		ew.printf("  gateway_url      = %q\n", r.Network.GatewayURL)
	}

	return ew.err
}

// errWriter captures the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
