// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for firefly-go. Values resolve through
// four layers: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Account AccountConfig `toml:"account"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AccountConfig identifies the school portal. SchoolCode is what the user
// types; Hostname is resolved from it at login and cached here.
type AccountConfig struct {
	SchoolCode string `toml:"school_code"`
	Hostname   string `toml:"hostname"`
	DeviceID   string `toml:"device_id"`
}

// SyncConfig controls the sync engine: batch fetch shape and the watch
// polling period.
type SyncConfig struct {
	BatchSize       int    `toml:"batch_size"`
	ParallelFetches int    `toml:"parallel_fetches"`
	PollInterval    string `toml:"poll_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	UserAgent  string `toml:"user_agent"`
	GatewayURL string `toml:"gateway_url"`
}

// PollDuration returns the parsed poll interval, or the default when the
// value does not parse. Validate rejects such values up front.
func (s SyncConfig) PollDuration() time.Duration {
	d, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		d, _ = time.ParseDuration(defaultPollInterval)
	}

	return d
}

// TimeoutDuration returns the parsed HTTP timeout, falling back to the
// default like PollDuration.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		d, _ = time.ParseDuration(defaultTimeout)
	}

	return d
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	School     string // --school
}

// Resolved is the effective configuration after every layer is applied,
// plus the path it was loaded from.
type Resolved struct {
	Config
	Path string
}
