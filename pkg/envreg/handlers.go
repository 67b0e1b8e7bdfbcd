package envreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds registration request bodies.
const maxBodyBytes = 1 << 20

// readBody reads the request body and decodes it against schemaName.
func readBody(w http.ResponseWriter, r *http.Request, schemaName string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return validationError(fmt.Sprintf("failed to read request body: %v", err))
	}
	return DecodeJSON(schemaName, body, dst)
}

// registerNamespaceHandler returns a handler that registers a namespace.
// POST /api/envreg/v1alpha1/namespaces
func registerNamespaceHandler(registrar *Registrar, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg NamespaceRegistration
		if err := readBody(w, r, SchemaNamespaceRegistration, &reg); err != nil {
			writeRegistryError(w, r, logger, "register namespace", err)
			return
		}

		ns, err := registrar.RegisterNamespace(r.Context(), reg)
		if err != nil {
			writeRegistryError(w, r, logger, "register namespace", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"namespace": ns,
			"message":   fmt.Sprintf("Environment namespace %s registered.", ns),
		})
	}
}

// listNamespacesHandler returns a handler that lists registered namespaces.
// GET /api/envreg/v1alpha1/namespaces
func listNamespacesHandler(namespaces *NamespaceRegistry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := namespaces.List(r.Context())
		if err != nil {
			writeRegistryError(w, r, logger, "list namespaces", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"namespaces": items})
	}
}

// registerVersionHandler returns a handler that publishes a version.
// POST /api/envreg/v1alpha1/versions
func registerVersionHandler(registrar *Registrar, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg VersionRegistration
		if err := readBody(w, r, SchemaVersionRegistration, &reg); err != nil {
			writeRegistryError(w, r, logger, "register version", err)
			return
		}

		res, err := registrar.RegisterVersion(r.Context(), reg)
		if err != nil {
			writeRegistryError(w, r, logger, "register version", err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// updateVersionHandler returns a handler for version updates.
// PUT /api/envreg/v1alpha1/versions
func updateVersionHandler(registrar *Registrar, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd VersionUpdate
		if err := readBody(w, r, SchemaVersionUpdate, &upd); err != nil {
			writeRegistryError(w, r, logger, "update version", err)
			return
		}

		if err := registrar.UpdateVersion(r.Context(), upd); err != nil {
			writeRegistryError(w, r, logger, "update version", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// listVersionsHandler returns a handler that lists every name with its versions.
// GET /api/envreg/v1alpha1/versions
func listVersionsHandler(catalog *Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := catalog.ListAll(r.Context())
		if err != nil {
			writeRegistryError(w, r, logger, "list versions", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

// getVersionHandler returns a handler that serves one version manifest.
// GET /api/envreg/v1alpha1/environments/{name}/versions/{version}
func getVersionHandler(catalog *Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		ver := chi.URLParam(r, "version")
		serveManifest(w, r, logger, catalog, name, ver)
	}
}

// getLatestHandler returns a handler that serves the latest version manifest.
// GET /api/envreg/v1alpha1/environments/{name}/latest
func getLatestHandler(catalog *Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveManifest(w, r, logger, catalog, chi.URLParam(r, "name"), "")
	}
}

// serveManifest writes the manifest of name@ver, or of the latest version
// of name when ver is empty.
func serveManifest(w http.ResponseWriter, r *http.Request, logger *slog.Logger, catalog *Catalog, name, ver string) {
	var (
		m   *VersionManifest
		err error
	)
	if ver == "" {
		m, err = catalog.GetLatestWithDependencies(r.Context(), name)
	} else {
		m, err = catalog.GetWithDependencies(r.Context(), name, ver)
	}
	if err != nil {
		writeRegistryError(w, r, logger, "get version", err)
		return
	}
	if m == nil {
		writeRegistryError(w, r, logger, "get version", notFound(name, ver))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// getClosureHandler returns a handler that serves a version with its full
// dependency closure.
// GET /api/envreg/v1alpha1/environments/{name}/versions/{version}/closure
func getClosureHandler(resolver *Resolver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		ver := chi.URLParam(r, "version")

		c, err := resolver.Closure(r.Context(), name, ver)
		if err != nil {
			writeRegistryError(w, r, logger, "get closure", err)
			return
		}
		if c == nil {
			writeRegistryError(w, r, logger, "get closure", notFound(name, ver))
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// legacyGetVersionHandler serves GET /GET/version, which takes the name and
// version from request headers. Query parameters are accepted as well.
func legacyGetVersionHandler(catalog *Catalog, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get("name")
		if name == "" {
			name = r.URL.Query().Get("name")
		}
		ver := r.Header.Get("version")
		if ver == "" {
			ver = r.URL.Query().Get("version")
		}
		if name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		serveManifest(w, r, logger, catalog, name, ver)
	}
}

func notFound(name, ver string) error {
	if ver == "" {
		return newError(CodeNotFound, fmt.Sprintf("environment %s doesn't exist", name), nil)
	}
	return newError(CodeNotFound, fmt.Sprintf("environment %s version %s doesn't exist", name, ver), nil)
}

// writeRegistryError maps err to a response. Registry and schema errors are
// returned to the caller; anything else is logged and hidden behind a 500.
func writeRegistryError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var se *SchemaError
	if errors.As(err, &se) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":       se.Error(),
			"validations": se.Issues,
		})
		return
	}
	if re, ok := AsRegistryError(err); ok {
		writeJSON(w, HTTPStatus(re.Code), map[string]string{
			"error": re.Message,
			"code":  string(re.Code),
		})
		return
	}

	logger.ErrorContext(r.Context(), "request failed",
		"op", op,
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
