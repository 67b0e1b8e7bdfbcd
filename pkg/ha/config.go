// Package ha provides primitives for running several registry replicas
// against one database: schema migrations are serialized through a
// database lock.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HAConfig holds configuration for multi-replica features.
type HAConfig struct {
	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool

	// LockTimeout bounds how long a replica waits for another replica's
	// migration to finish.
	LockTimeout time.Duration

	// Identity is recorded as the lock holder. Defaults to POD_NAME or the
	// hostname.
	Identity string
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	return &HAConfig{
		MigrationLockEnabled: true,
		LockTimeout:          30 * time.Second,
		Identity:             defaultIdentity(),
	}
}

// HAConfigFromEnv reads HA configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - ENVREG_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - ENVREG_MIGRATION_LOCK_TIMEOUT: seconds (default: 30)
//   - POD_NAME: replica identity
func HAConfigFromEnv() *HAConfig {
	cfg := DefaultHAConfig()

	if v := os.Getenv("ENVREG_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ENVREG_MIGRATION_LOCK_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.LockTimeout = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
