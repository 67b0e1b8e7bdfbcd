package audit

import (
	"strings"
)

// actionFromRequest returns a human-readable action name for a write
// request, covering both the versioned API and the legacy route names.
func actionFromRequest(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	last := parts[len(parts)-1]

	// Legacy routes carry the verb as the first segment: /POST/version.
	if len(parts) >= 2 {
		switch parts[len(parts)-2] {
		case "POST":
			return "register-" + last
		case "UPDATE":
			return "update-" + last
		}
	}

	switch last {
	case "namespaces":
		if method == "POST" {
			return "register-namespace"
		}
	case "versions":
		switch method {
		case "POST":
			return "register-version"
		case "PUT":
			return "update-version"
		}
	}

	return strings.ToLower(method)
}

// isAuditedRequest returns true if the request should be audited. Only
// writes are; browsing and probes are not.
func isAuditedRequest(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}

	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return true
	}
	return false
}
