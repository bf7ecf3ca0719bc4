package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errNoWatcher means no process holds the watch lock.
var errNoWatcher = errors.New("no running watcher found")

// watchLock is the exclusive claim a `sync --watch` process holds on its
// data directory. The file carries the holder's PID so `sync --wake` can
// find it; the flock is what actually excludes a second watcher.
type watchLock struct {
	path string
	f    *os.File
}

func acquireWatchLock(path string) (*watchLock, error) {
	if path == "" {
		return nil, errors.New("watch lock path is empty: cannot determine data directory (is $HOME set?)")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating watch lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening watch lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another sync --watch is already running (%s is locked)", path)
	}

	l := &watchLock{path: path, f: f}
	if err := l.record(os.Getpid()); err != nil {
		f.Close()

		return nil, err
	}

	return l, nil
}

// record replaces the file content with pid and flushes it so a concurrent
// --wake never reads a half-written value.
func (l *watchLock) record(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating watch lock: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing watch lock: %w", err)
	}

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("flushing watch lock: %w", err)
	}

	return nil
}

// Release removes the file before dropping the flock. Safe to call twice.
func (l *watchLock) Release() {
	if l.f == nil {
		return
	}

	os.Remove(l.path)
	l.f.Close()
	l.f = nil
}

func readWatcherPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w (no lock file at %s)", errNoWatcher, path)
		}

		return 0, fmt.Errorf("reading watch lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// wakeWatcher sends SIGHUP to the process recorded at path. A lock file
// left behind by a dead process is removed.
func wakeWatcher(path string) error {
	pid, err := readWatcherPID(path)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding watcher %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return fmt.Errorf("%w: PID %d is gone, removed its stale lock file", errNoWatcher, pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("waking watcher %d: %w", pid, err)
	}

	return nil
}
