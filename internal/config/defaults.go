package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultBatchSize       = 50
	defaultParallelFetches = 4
	defaultPollInterval    = "5m"
	defaultLogLevel        = "info"
	defaultTimeout         = "30s"
	defaultMaxRetries      = 3
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			BatchSize:       defaultBatchSize,
			ParallelFetches: defaultParallelFetches,
			PollInterval:    defaultPollInterval,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Network: NetworkConfig{
			Timeout:    defaultTimeout,
			MaxRetries: defaultMaxRetries,
		},
	}
}
