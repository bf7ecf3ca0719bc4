package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "FIREFLY_GO_CONFIG"
	EnvSchool = "FIREFLY_GO_SCHOOL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // FIREFLY_GO_CONFIG: override config file path
	School     string // FIREFLY_GO_SCHOOL: school code override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. The Config is not modified; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		School:     os.Getenv(EnvSchool),
	}
}
