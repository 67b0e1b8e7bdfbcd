package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/envhub/env-registry/pkg/audit"
	"github.com/envhub/env-registry/pkg/cache"
	"github.com/envhub/env-registry/pkg/config"
	"github.com/envhub/env-registry/pkg/db"
	"github.com/envhub/env-registry/pkg/envreg"
	"github.com/envhub/env-registry/pkg/metrics"
	"github.com/envhub/env-registry/pkg/tracing"
)

// server holds the registry and the supporting components wired around it.
type server struct {
	cfg    *config.Config
	db     *gorm.DB
	logger *slog.Logger

	svc          *envreg.Service
	auditStore   *audit.AuditStore
	cacheManager *cache.CacheManager
	metrics      *metrics.Recorder
	registry     *prometheus.Registry
	tracer       trace.Tracer
}

// newServer builds the registry service and registers the audit recorder,
// the cache manager and the metrics recorder as registration observers.
// tracer may be nil.
func newServer(cfg *config.Config, gormDB *gorm.DB, adminKey *rsa.PublicKey, tracer trace.Tracer, logger *slog.Logger) (*server, error) {
	svc := envreg.NewService(gormDB, adminKey)
	if cfg.NamespacePattern != "" {
		if err := svc.Namespaces.SetNamespacePattern(cfg.NamespacePattern); err != nil {
			return nil, err
		}
	}

	s := &server{
		cfg:        cfg,
		db:         gormDB,
		logger:     logger,
		svc:        svc,
		auditStore: audit.NewAuditStore(gormDB),
		tracer:     tracer,
	}

	svc.Registrar.AddObserver(audit.NewRecorder(s.auditStore, cfg.AuditConfig(), logger))

	if cm := cache.NewCacheManager(cfg.CacheConfig(), logger); cm != nil {
		cm.WatchRevision(svc.Catalog.Revision)
		s.cacheManager = cm
		svc.Registrar.AddObserver(cm)
	}

	if cfg.Metrics.Enabled {
		s.registry = metrics.NewRegistry()
		s.metrics = metrics.NewRecorder(s.registry)
		svc.Registrar.AddObserver(s.metrics)
	}

	return s, nil
}

// routes mounts the registry API, its legacy route names, the audit API,
// metrics and health probes.
func (s *server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if s.tracer != nil {
		r.Use(tracing.Middleware(s.tracer))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID", "name", "version"},
		ExposedHeaders:   []string{"X-Cache", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auditCfg := s.cfg.AuditConfig()
	if auditCfg.Enabled {
		r.Use(audit.AuditMiddleware(s.auditStore, auditCfg, s.logger))
		s.logger.Info("audit middleware enabled",
			"logDenied", auditCfg.LogDenied,
			"retentionDays", auditCfg.RetentionDays)
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.registry))
	}

	lookupCache := s.cacheManager.Middleware()
	r.Mount("/api/envreg/v1alpha1", lookupCache(envreg.NewRouter(s.svc, s.logger)))
	r.Group(func(r chi.Router) {
		r.Use(lookupCache)
		envreg.LegacyRoutes(s.svc, s.logger)(r)
	})
	r.Mount("/api/audit/v1alpha1", audit.Router(s.auditStore))

	return r
}

func (s *server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyHandler reports ready only while the database answers.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, s.db); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// retentionWorker returns the audit retention worker, or nil when auditing
// is disabled.
func (s *server) retentionWorker() *audit.RetentionWorker {
	auditCfg := s.cfg.AuditConfig()
	if !auditCfg.Enabled {
		return nil
	}
	return audit.NewRetentionWorker(s.auditStore, auditCfg, s.logger)
}
