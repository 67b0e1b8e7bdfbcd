package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CacheConfig holds configuration for the lookup response cache.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// TTL is how long a cached lookup response is served.
	TTL time.Duration

	// CleanupInterval is how often expired entries are purged.
	CleanupInterval time.Duration

	// MaxSize is the maximum number of cached responses.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:         true,
		TTL:             30 * time.Second,
		CleanupInterval: 5 * time.Minute,
		MaxSize:         1000,
	}
}

// CacheConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - ENVREG_CACHE_ENABLED: "true" or "false" (default: "true")
//   - ENVREG_CACHE_TTL: duration in seconds (default: 30)
//   - ENVREG_CACHE_CLEANUP_INTERVAL: duration in seconds (default: 300)
//   - ENVREG_CACHE_MAX_SIZE: max entries (default: 1000)
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if v := os.Getenv("ENVREG_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("ENVREG_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TTL = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("ENVREG_CACHE_CLEANUP_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CleanupInterval = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("ENVREG_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
