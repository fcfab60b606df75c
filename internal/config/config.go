// Package config holds the client's runtime configuration, populated
// from defaults and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
)

type (
	// Config holds configuration settings for the watch client
	Config struct {
		// Engine
		EngineURL string
		LogLevel  string

		// Stores
		WatchStore  timebox.StoreConfig
		JournalAddr string

		// Watching
		WatchCacheSize int
		StaleThreshold time.Duration

		// Transport
		ReconnectInitBackoff time.Duration
		ReconnectMaxBackoff  time.Duration
		RequestTimeout       time.Duration
		ShutdownTimeout      time.Duration

		// Export
		ExportBucketURL string
	}
)

const (
	DefaultEngineURL = "http://localhost:8080"

	DefaultRedisEndpoint = "localhost:6379"
	DefaultRedisPrefix   = "vigil"
	DefaultRedisDB       = 0

	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second

	DefaultWatchCacheSize = 1024
	DefaultStaleThreshold = 5 * time.Minute

	DefaultReconnectInitBackoff = time.Second
	DefaultReconnectMaxBackoff  = 30 * time.Second
	DefaultRequestTimeout       = 15 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second

	MaxWatchCacheSize = 1_000_000
	MaxStaleThreshold = 24 * time.Hour
	MaxBackoff        = time.Hour
	MaxRequestTimeout = 10 * time.Minute
)

var (
	ErrInvalidEngineURL      = errors.New("invalid engine URL")
	ErrInvalidStaleThreshold = errors.New("stale threshold must be positive")
	ErrInvalidInitBackoff    = errors.New(
		"reconnect initial backoff must be positive",
	)
	ErrInvalidMaxBackoff = errors.New(
		"reconnect max backoff must be positive",
	)
	ErrMaxBackoffTooSmall = errors.New(
		"reconnect max backoff must be >= initial backoff",
	)
	ErrInvalidRequestTimeout = errors.New("request timeout must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for the
// engine endpoint, the watch store, and reconnect behavior
func NewDefaultConfig() *Config {
	return &Config{
		EngineURL: DefaultEngineURL,
		LogLevel:  "info",
		WatchStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		JournalAddr:          DefaultRedisEndpoint,
		WatchCacheSize:       DefaultWatchCacheSize,
		StaleThreshold:       DefaultStaleThreshold,
		ReconnectInitBackoff: DefaultReconnectInitBackoff,
		ReconnectMaxBackoff:  DefaultReconnectMaxBackoff,
		RequestTimeout:       DefaultRequestTimeout,
		ShutdownTimeout:      DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.WatchStore, "WATCH")

	if engineURL := os.Getenv("ENGINE_URL"); engineURL != "" {
		c.EngineURL = engineURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if journalAddr := os.Getenv("JOURNAL_REDIS_ADDR"); journalAddr != "" {
		c.JournalAddr = journalAddr
	}
	if bucketURL := os.Getenv("EXPORT_BUCKET_URL"); bucketURL != "" {
		c.ExportBucketURL = bucketURL
	}

	if err := loadEnvInt(
		"WATCH_CACHE_SIZE", &c.WatchCacheSize, 0, MaxWatchCacheSize,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"STALE_THRESHOLD", &c.StaleThreshold, MaxStaleThreshold,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RECONNECT_INITIAL_BACKOFF", &c.ReconnectInitBackoff, MaxBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RECONNECT_MAX_BACKOFF", &c.ReconnectMaxBackoff, MaxBackoff,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"REQUEST_TIMEOUT", &c.RequestTimeout, MaxRequestTimeout,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.EngineURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidEngineURL, c.EngineURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInvalidEngineURL, c.EngineURL)
	}

	if c.StaleThreshold <= 0 {
		return ErrInvalidStaleThreshold
	}

	if c.ReconnectInitBackoff <= 0 {
		return ErrInvalidInitBackoff
	}

	if c.ReconnectMaxBackoff <= 0 {
		return ErrInvalidMaxBackoff
	}

	if c.ReconnectMaxBackoff < c.ReconnectInitBackoff {
		return ErrMaxBackoffTooSmall
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key from the environment as a Go duration string
// and sets *dst when present and within range
func loadEnvDuration(key string, dst *time.Duration, max time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= 0 || v > max {
		return fmt.Errorf("invalid %s: %s out of range (0, %s]", key, v, max)
	}
	*dst = v
	return nil
}
