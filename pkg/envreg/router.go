package envreg

import (
	"crypto/rsa"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// Service wires the registry components around one database handle.
type Service struct {
	Namespaces *NamespaceRegistry
	Catalog    *Catalog
	Resolver   *Resolver
	Registrar  *Registrar
}

// NewService creates the registry components. adminKey verifies namespace
// registrations.
func NewService(db *gorm.DB, adminKey *rsa.PublicKey) *Service {
	namespaces := NewNamespaceRegistry(db, adminKey)
	catalog := NewCatalog(db)
	resolver := NewResolver(db)
	return &Service{
		Namespaces: namespaces,
		Catalog:    catalog,
		Resolver:   resolver,
		Registrar:  NewRegistrar(db, namespaces, catalog, resolver),
	}
}

// NewRouter creates a chi router with the registry API routes. It is meant
// to be mounted under /api/envreg/v1alpha1.
func NewRouter(svc *Service, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Route("/namespaces", func(r chi.Router) {
		r.Get("/", listNamespacesHandler(svc.Namespaces, logger))
		r.Post("/", registerNamespaceHandler(svc.Registrar, logger))
	})

	r.Route("/versions", func(r chi.Router) {
		r.Get("/", listVersionsHandler(svc.Catalog, logger))
		r.Post("/", registerVersionHandler(svc.Registrar, logger))
		r.Put("/", updateVersionHandler(svc.Registrar, logger))
	})

	r.Route("/environments/{name}", func(r chi.Router) {
		r.Get("/latest", getLatestHandler(svc.Catalog, logger))
		r.Get("/versions/{version}", getVersionHandler(svc.Catalog, logger))
		r.Get("/versions/{version}/closure", getClosureHandler(svc.Resolver, logger))
	})

	return r
}

// LegacyRoutes registers the route names of the first registry server,
// which existing publishing scripts still call. Use it with chi's Group on
// the root router.
func LegacyRoutes(svc *Service, logger *slog.Logger) func(r chi.Router) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r chi.Router) {
		r.Post("/POST/namespace", registerNamespaceHandler(svc.Registrar, logger))
		r.Post("/POST/version", registerVersionHandler(svc.Registrar, logger))
		r.Post("/UPDATE/version", updateVersionHandler(svc.Registrar, logger))
		r.Get("/GET/version", legacyGetVersionHandler(svc.Catalog, logger))
		r.Get("/GET/versions", listVersionsHandler(svc.Catalog, logger))
	}
}
