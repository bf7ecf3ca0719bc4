package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/firefly-go/internal/cache"
	"github.com/tonimelisma/firefly-go/internal/credfile"
	"github.com/tonimelisma/firefly-go/internal/firefly"
	"github.com/tonimelisma/firefly-go/internal/sync"
)

// cacheDirPermissions keeps the task cache private to the user.
const cacheDirPermissions = 0o700

// errNotLoggedIn is returned by commands that need device credentials.
var errNotLoggedIn = errors.New("not logged in, run 'firefly-go login' first")

// Session holds the signed-in client and the sync engine built on the local
// cache for one CLI invocation.
type Session struct {
	Client *firefly.Client
	Store  *cache.Store
	Engine *sync.Engine
	Creds  *credfile.File
}

// newHTTPClient returns an HTTP client with the configured request timeout,
// so a hung connection never blocks a command indefinitely.
func newHTTPClient(cc *CLIContext) *http.Client {
	return &http.Client{Timeout: cc.Cfg.Network.TimeoutDuration()}
}

// apiBaseURL maps a stored hostname to the API base URL. A value that
// already carries a scheme is used verbatim.
func apiBaseURL(hostname string) string {
	if strings.Contains(hostname, "://") {
		return hostname
	}

	return firefly.BaseURLForHost(hostname)
}

// newFireflyClient builds a client for hostname with the network settings
// applied. creds may be nil for anonymous calls such as hostname lookup.
func newFireflyClient(cc *CLIContext, hostname string, creds firefly.CredentialSource) *firefly.Client {
	client := firefly.NewClient(apiBaseURL(hostname), newHTTPClient(cc), creds, cc.Logger, cc.Cfg.Network.UserAgent)
	client.SetMaxRetries(cc.Cfg.Network.MaxRetries)

	return client
}

// openStore opens the task cache, creating its directory on first use.
func openStore(ctx context.Context, cc *CLIContext) (*cache.Store, error) {
	if cc.CacheDBPath == "" {
		return nil, fmt.Errorf("cannot determine cache path (is $HOME set?)")
	}

	if err := os.MkdirAll(filepath.Dir(cc.CacheDBPath), cacheDirPermissions); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return cache.Open(ctx, cc.CacheDBPath, cc.Logger)
}

// newUserClient loads the saved credentials and returns a client acting as
// the signed-in user. Online-only commands use it without opening the cache.
func newUserClient(cc *CLIContext) (*firefly.Client, *credfile.File, error) {
	creds, err := credfile.Load(cc.CredentialsPath)
	if err != nil {
		return nil, nil, err
	}

	if creds == nil {
		return nil, nil, errNotLoggedIn
	}

	client := newFireflyClient(cc, creds.Hostname, creds)
	client.SetRecipient(creds.User)

	return client, creds, nil
}

// NewSession loads the saved credentials and wires client, store and
// engine together. Callers must Close the session.
func NewSession(ctx context.Context, cc *CLIContext) (*Session, error) {
	client, creds, err := newUserClient(cc)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cc)
	if err != nil {
		return nil, err
	}

	engine, err := sync.NewEngine(ctx, &sync.EngineConfig{
		Store:           store,
		Fetcher:         client,
		Tasks:           client,
		ChunkSize:       cc.Cfg.Sync.BatchSize,
		ParallelFetches: cc.Cfg.Sync.ParallelFetches,
		Logger:          cc.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	cc.Logger.Debug("session ready",
		slog.String("hostname", creds.Hostname),
		slog.Int("cached_tasks", engine.Snapshot().Len()),
	)

	return &Session{Client: client, Store: store, Engine: engine, Creds: creds}, nil
}

// Controller returns a mutation controller posting as the signed-in user.
func (s *Session) Controller(cc *CLIContext) *sync.Controller {
	return sync.NewController(s.Engine, s.Client, s.Creds.User.Name, cc.Logger)
}

// Close releases the task cache.
func (s *Session) Close() error {
	return s.Store.Close()
}
