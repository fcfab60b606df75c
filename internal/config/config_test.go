package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/internal/config"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultEngineURL, cfg.EngineURL)
	assert.Equal(t, config.DefaultStaleThreshold, cfg.StaleThreshold)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENGINE_URL", "http://engine:9090")
	t.Setenv("STALE_THRESHOLD", "2m")
	t.Setenv("WATCH_CACHE_SIZE", "64")
	t.Setenv("WATCH_REDIS_ADDR", "redis:6379")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://engine:9090", cfg.EngineURL)
	assert.Equal(t, 2*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, 64, cfg.WatchCacheSize)
	assert.Equal(t, "redis:6379", cfg.WatchStore.Addr)
}

func TestLoadFromEnvBadValues(t *testing.T) {
	t.Setenv("WATCH_CACHE_SIZE", "lots")
	cfg := config.NewDefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())

	t.Setenv("WATCH_CACHE_SIZE", "")
	t.Setenv("STALE_THRESHOLD", "never")
	cfg = config.NewDefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestValidate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.EngineURL = "not a url"
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidEngineURL)

	cfg = config.NewDefaultConfig()
	cfg.EngineURL = "ftp://engine"
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidEngineURL)

	cfg = config.NewDefaultConfig()
	cfg.StaleThreshold = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidStaleThreshold)

	cfg = config.NewDefaultConfig()
	cfg.ReconnectMaxBackoff = cfg.ReconnectInitBackoff / 2
	assert.ErrorIs(t, cfg.Validate(), config.ErrMaxBackoffTooSmall)

	cfg = config.NewDefaultConfig()
	cfg.RequestTimeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidRequestTimeout)
}
