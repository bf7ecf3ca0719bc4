package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config file modes: owner read/write, everyone else read-only.
const (
	configFilePermissions = 0o644
	configDirPermissions  = 0o755
)

const accountSectionHeader = "[account]"

// configTemplate is written once on first login. Every tunable is present
// as a commented-out default; later logins only edit the [account] section
// so user changes elsewhere survive.
const configTemplate = `# firefly-go configuration
# Uncomment and modify to override defaults.

[sync]
# Task IDs per byIds request (1-50)
# batch_size = 50

# Chunk requests in flight at once
# parallel_fetches = 4

# Poll period for sync --watch
# poll_interval = "5m"

[logging]
# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log file path (default: stderr only)
# log_file = ""

[network]
# Per-request HTTP timeout
# timeout = "30s"

# Retries for idempotent reads on 5xx
# max_retries = 3

# Written by 'login'.
`

// SaveAccount records the account section in the config file at path,
// creating the file from the template when it does not exist yet. Existing
// keys in [account] are replaced in place; everything else is preserved.
func SaveAccount(path string, acct AccountConfig) error {
	slog.Info("saving account to config",
		slog.String("path", path),
		slog.String("school_code", acct.SchoolCode),
		slog.String("hostname", acct.Hostname),
	)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	lines := strings.Split(content, "\n")

	headerLine := findSectionHeader(lines, accountSectionHeader)
	if headerLine < 0 {
		// Drop the trailing empty element so the new section follows the
		// final newline directly.
		lines = append(lines[:len(lines)-1], accountSectionHeader, "")
		headerLine = len(lines) - 2
	}

	pairs := []struct{ key, value string }{
		{"device_id", acct.DeviceID},
		{"hostname", acct.Hostname},
		{"school_code", acct.SchoolCode},
	}

	for _, p := range pairs {
		lines = setKeyInSection(lines, headerLine, p.key, fmt.Sprintf("%s = %q", p.key, p.value))
	}

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findSectionHeader returns the line index of header, or -1.
func findSectionHeader(lines []string, header string) int {
	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i
		}
	}

	return -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. Blank lines and comments just above the next header belong
// to that header, not to this section.
func findSectionEnd(lines []string, headerLine int) int {
	nextHeader := len(lines)

	for i := headerLine + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			nextHeader = i

			break
		}
	}

	end := nextHeader
	for end > headerLine+1 {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// setKeyInSection replaces an existing key line within the section or
// inserts newLine directly after the header.
func setKeyInSection(lines []string, headerLine int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, headerLine)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// atomicWriteFile writes data to a temp file next to path and renames it
// into place, so a crash never leaves a half-written config. Parent
// directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
