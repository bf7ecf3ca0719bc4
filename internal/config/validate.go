package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minBatchSize       = 1
	maxBatchSize       = 50 // byIds rejects larger requests
	minParallelFetches = 1
	maxParallelFetches = 16
	minPollInterval    = 1 * time.Minute
	minTimeout         = 1 * time.Second
	maxRetriesLimit    = 10
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAccount(&cfg.Account)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateAccount(a *AccountConfig) []error {
	var errs []error

	if strings.ContainsAny(a.SchoolCode, " /?#") {
		errs = append(errs, fmt.Errorf("school_code: must not contain spaces or URL characters, got %q", a.SchoolCode))
	}

	if a.Hostname != "" && strings.ContainsAny(a.Hostname, "/?#") {
		errs = append(errs, fmt.Errorf("hostname: must be a bare host name without scheme or path, got %q", a.Hostname))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if s.ParallelFetches < minParallelFetches || s.ParallelFetches > maxParallelFetches {
		errs = append(errs, fmt.Errorf("parallel_fetches: must be between %d and %d, got %d",
			minParallelFetches, maxParallelFetches, s.ParallelFetches))
	}

	if err := validateDurationMin("poll_interval", s.PollInterval, minPollInterval); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if !slices.Contains(validLogLevels, l.LogLevel) {
		return []error{fmt.Errorf("log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDurationMin("timeout", n.Timeout, minTimeout); err != nil {
		errs = append(errs, err)
	}

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetriesLimit, n.MaxRetries))
	}

	if n.GatewayURL != "" {
		u, err := url.Parse(n.GatewayURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("gateway_url: must be an absolute http(s) URL, got %q", n.GatewayURL))
		}
	}

	return errs
}

// validateDurationMin parses value as a Go duration and checks it is at
// least minimum.
func validateDurationMin(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)
	}

	return nil
}
