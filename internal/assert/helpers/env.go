package helpers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/internal/client"
	"github.com/kode4food/vigil/internal/config"
	"github.com/kode4food/vigil/internal/watch"
)

// TestWatchEnv holds all the components needed for watcher testing
type TestWatchEnv struct {
	Engine  *FakeEngine
	Redis   *miniredis.Miniredis
	Watcher *watch.Watcher
	Client  *client.HTTPClient
	Journal *watch.RedisJournal
	Config  *config.Config
	Hub     timebox.EventHub
	Cleanup func()
}

// NewTestConfig creates a configuration suitable for fast tests
func NewTestConfig(engineURL, redisAddr string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.EngineURL = engineURL
	cfg.LogLevel = "debug"
	cfg.WatchStore.Addr = redisAddr
	cfg.WatchStore.Prefix = "test-watch"
	cfg.JournalAddr = redisAddr
	cfg.ReconnectInitBackoff = 10 * time.Millisecond
	cfg.ReconnectMaxBackoff = 50 * time.Millisecond
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

// NewTestWatcher creates a fully configured watcher environment with a
// fake engine and an in-memory Redis backend
func NewTestWatcher(t *testing.T) *TestWatchEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	engine := NewFakeEngine()
	cfg := NewTestConfig(engine.URL(), server.Addr())

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)

	store, err := tb.NewStore(cfg.WatchStore)
	require.NoError(t, err)

	journal := watch.NewRedisJournal(cfg.JournalAddr, "", 0)
	cli := client.NewHTTPClient(cfg.EngineURL, cfg.RequestTimeout)
	hub := tb.GetHub()
	watcher := watch.New(store, cli, hub, journal, cfg)

	cleanup := func() {
		watcher.Shutdown()
		_ = journal.Close()
		_ = tb.Close()
		engine.Close()
		server.Close()
	}

	return &TestWatchEnv{
		Engine:  engine,
		Redis:   server,
		Watcher: watcher,
		Client:  cli,
		Journal: journal,
		Config:  cfg,
		Hub:     hub,
		Cleanup: cleanup,
	}
}
