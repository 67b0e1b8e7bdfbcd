package cache

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/envhub/env-registry/pkg/envreg"
)

// CacheManager owns the lookup cache and clears it when a registration
// commits, since a new version can change the latest version of a name,
// the version listing and every cached closure.
type CacheManager struct {
	lookups  *ResponseCache
	revision RevisionFunc
	logger   *slog.Logger
}

var _ envreg.RegistrationObserver = (*CacheManager)(nil)

// NewCacheManager creates a CacheManager from the given configuration.
// If cfg is nil or disabled, it returns nil; a nil CacheManager is safe to
// use and caches nothing.
func NewCacheManager(cfg *CacheConfig, logger *slog.Logger) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{
		lookups: NewResponseCache(cfg.MaxSize, cfg.TTL, cfg.CleanupInterval),
		logger:  logger,
	}
}

// RegistrationFinished invalidates the cache after a committed namespace or
// version registration.
func (cm *CacheManager) RegistrationFinished(ctx context.Context, ev envreg.RegistrationEvent) {
	if cm == nil || !ev.Succeeded() {
		return
	}
	cm.InvalidateAll()
	cm.logger.DebugContext(ctx, "lookup cache invalidated", "kind", ev.Kind, "name", ev.Name, "version", ev.Version)
}

// WatchRevision makes the cache check revision before every lookup, so that
// registrations committed by other replicas sharing the database also
// invalidate it. Call before Middleware.
func (cm *CacheManager) WatchRevision(revision RevisionFunc) {
	if cm == nil {
		return
	}
	cm.revision = revision
}

// InvalidateAll clears the lookup cache.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.lookups.InvalidateAll()
}

// Middleware returns HTTP middleware caching lookup responses. On a nil
// CacheManager it passes requests through.
func (cm *CacheManager) Middleware() func(http.Handler) http.Handler {
	if cm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return RevisionCacheMiddleware(cm.lookups, cm.revision, cm.logger)
}
