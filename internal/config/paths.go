package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "firefly-go"

// File names inside the platform directories.
const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	cacheDBFileName     = "tasks.db"
	pidFileName         = "watch.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/firefly-go).
// On macOS, uses ~/Library/Application Support/firefly-go.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", filepath.Join(".config"), filepath.Join("Library", "Application Support"))
}

// DefaultDataDir returns the platform-specific directory for application data
// (credentials, PID file). On Linux, respects XDG_DATA_HOME.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"), filepath.Join("Library", "Application Support"))
}

// DefaultCacheDir returns the platform-specific directory for the task
// cache database. On Linux, respects XDG_CACHE_HOME.
func DefaultCacheDir() string {
	return platformDir("XDG_CACHE_HOME", ".cache", filepath.Join("Library", "Caches"))
}

// platformDir resolves appName under the XDG variable on Linux, the macOS
// directory on Darwin, and the Linux default elsewhere.
func platformDir(xdgVar, linuxRel, darwinRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, linuxRel, appName)
	case platformDarwin:
		return filepath.Join(home, darwinRel, appName)
	default:
		return filepath.Join(home, linuxRel, appName)
	}
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither FIREFLY_GO_CONFIG nor --config is given.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// CredentialsPath returns the path of the device credentials file.
func CredentialsPath() string {
	return joinIfDir(DefaultDataDir(), credentialsFileName)
}

// CacheDBPath returns the path of the SQLite task cache.
func CacheDBPath() string {
	return joinIfDir(DefaultCacheDir(), cacheDBFileName)
}

// PIDFilePath returns the path of the watch-mode PID file.
func PIDFilePath() string {
	return joinIfDir(DefaultDataDir(), pidFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
