package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultDirs_ContainAppName(t *testing.T) {
	for name, dir := range map[string]string{
		"config": DefaultConfigDir(),
		"data":   DefaultDataDir(),
		"cache":  DefaultCacheDir(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotEmpty(t, dir)
			assert.Contains(t, dir, appName)
		})
	}
}

func TestDefaultFilePaths(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), configFileName))
	assert.True(t, strings.HasSuffix(CredentialsPath(), credentialsFileName))
	assert.True(t, strings.HasSuffix(CacheDBPath(), cacheDBFileName))
	assert.True(t, strings.HasSuffix(PIDFilePath(), pidFileName))
}

func TestDefaultConfigDir_LinuxXDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("linux-only test")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")

	assert.Equal(t, filepath.Join("/custom/config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join("/custom/data", appName), DefaultDataDir())
	assert.Equal(t, filepath.Join("/custom/cache", appName), DefaultCacheDir())
}

func TestDefaultConfigDir_LinuxFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("linux-only test")
	}

	t.Setenv("HOME", "/home/testuser")
	t.Setenv("XDG_CONFIG_HOME", "")

	assert.Equal(t, "/home/testuser/.config/firefly-go", DefaultConfigDir())
}

func TestDefaultConfigDir_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	assert.Contains(t, DefaultConfigDir(), "Library/Application Support")
	assert.Contains(t, DefaultCacheDir(), "Library/Caches")
}

func TestJoinIfDir_EmptyDir(t *testing.T) {
	assert.Empty(t, joinIfDir("", "x"))
}
