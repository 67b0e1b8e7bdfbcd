package envreg

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	r.Mount("/api/envreg/v1alpha1", NewRouter(svc, nil))
	r.Group(LegacyRoutes(svc, nil))
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandlers_RegisterAndGet(t *testing.T) {
	h, _ := newTestRouter(t)
	_, publisher, _ := keys(t)

	w := doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/namespaces", namespaceRegistration(t, "sample", publisher))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "sample", decode[map[string]string](t, w)["namespace"])

	w = doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/versions", signedVersion(t, publisher, "sample", "0.0.3"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[RegistrationResult](t, w)
	assert.True(t, res.Latest)

	w = doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/versions",
		signedVersion(t, publisher, "sample.top", "0.0.3", DependencyRef{Name: "sample", Version: "0.0.3"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/api/envreg/v1alpha1/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []EnvironmentVersions{
		{Name: "sample", Versions: []string{"0.0.3"}},
		{Name: "sample.top", Versions: []string{"0.0.3"}},
	}, decode[[]EnvironmentVersions](t, w))

	w = doJSON(t, h, http.MethodGet, "/api/envreg/v1alpha1/environments/sample.top/versions/0.0.3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[VersionManifest](t, w)
	assert.Len(t, m.Bundles, 2)
	require.Len(t, m.Dependencies, 1)
	assert.Len(t, m.Dependencies[0].Bundles, 1)

	w = doJSON(t, h, http.MethodGet, "/api/envreg/v1alpha1/environments/sample.top/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.0.3", decode[VersionManifest](t, w).Version)

	w = doJSON(t, h, http.MethodGet, "/api/envreg/v1alpha1/environments/sample.top/versions/0.0.3/closure", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[ClosureManifest](t, w).Dependencies, 1)

	w = doJSON(t, h, http.MethodGet, "/api/envreg/v1alpha1/namespaces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "PUBLIC KEY")
	assert.Contains(t, w.Body.String(), `"namespace":"sample"`)
}

func TestHandlers_ErrorStatuses(t *testing.T) {
	h, _ := newTestRouter(t)
	_, publisher, other := keys(t)

	w := doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/namespaces", namespaceRegistration(t, "sample", publisher))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/versions", signedVersion(t, publisher, "sample", "0.0.1"))
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   ErrorCode
	}{
		{name: "namespace exists", method: http.MethodPost, path: "/api/envreg/v1alpha1/namespaces",
			body: namespaceRegistration(t, "sample", other), status: http.StatusConflict, code: CodeAlreadyRegistered},
		{name: "bad signature", method: http.MethodPost, path: "/api/envreg/v1alpha1/versions",
			body: signedVersion(t, other, "sample", "0.0.2"), status: http.StatusUnauthorized, code: CodeAuthenticationFailed},
		{name: "unknown namespace", method: http.MethodPost, path: "/api/envreg/v1alpha1/versions",
			body: signedVersion(t, publisher, "nobody", "0.0.2"), status: http.StatusNotFound, code: CodeNamespaceNotRegistered},
		{name: "version exists", method: http.MethodPost, path: "/api/envreg/v1alpha1/versions",
			body: signedVersion(t, publisher, "sample", "0.0.1"), status: http.StatusConflict, code: CodeVersionAlreadyExists},
		{name: "malformed version", method: http.MethodPost, path: "/api/envreg/v1alpha1/versions",
			body: signedVersion(t, publisher, "sample", "0.1"), status: http.StatusBadRequest, code: CodeMalformedVersion},
		{name: "missing dependency", method: http.MethodPost, path: "/api/envreg/v1alpha1/versions",
			body:   signedVersion(t, publisher, "sample.top", "0.0.1", DependencyRef{Name: "sample", Version: "1.0.0"}),
			status: http.StatusBadRequest, code: CodeDependenciesMissing},
		{name: "version not found", method: http.MethodGet, path: "/api/envreg/v1alpha1/environments/sample/versions/9.9.9",
			status: http.StatusNotFound, code: CodeNotFound},
		{name: "no latest", method: http.MethodGet, path: "/api/envreg/v1alpha1/environments/nothing/latest",
			status: http.StatusNotFound, code: CodeNotFound},
		{name: "closure not found", method: http.MethodGet, path: "/api/envreg/v1alpha1/environments/sample/versions/9.9.9/closure",
			status: http.StatusNotFound, code: CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[map[string]string](t, w)
			assert.Equal(t, string(tt.code), body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandlers_UpdateVersionNotImplemented(t *testing.T) {
	h, _ := newTestRouter(t)
	_, publisher, _ := keys(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/namespaces", namespaceRegistration(t, "sample", publisher)).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/versions", signedVersion(t, publisher, "sample", "0.0.1")).Code)

	upd := VersionUpdate{Name: "sample", Version: "0.0.1", URI: "s3://new"}
	upd.Signature = sign(t, publisher, upd.Message())

	w := doJSON(t, h, http.MethodPut, "/api/envreg/v1alpha1/versions", upd)
	assert.Equal(t, http.StatusNotImplemented, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, "/UPDATE/version", upd)
	assert.Equal(t, http.StatusNotImplemented, w.Code, w.Body.String())
}

func TestHandlers_SchemaValidation(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name    string
		path    string
		body    any
		keyword string
	}{
		{name: "missing signature", path: "/api/envreg/v1alpha1/namespaces",
			body: map[string]string{"namespace": "sample", "key": "a2V5"}, keyword: "required"},
		{name: "unknown field", path: "/api/envreg/v1alpha1/namespaces",
			body: map[string]string{"namespace": "sample", "key": "a2V5", "signature": "c2ln", "admin": "yes"}, keyword: "additionalProperties"},
		{name: "bundle type", path: "/api/envreg/v1alpha1/versions",
			body: map[string]any{
				"name": "sample", "version": "0.0.1", "signature": "c2ln", "dependencies": []any{},
				"bundles": []any{map[string]string{"type": "exe", "uri": "u", "crc": "c", "hash": "h"}},
			}, keyword: "enum"},
		{name: "empty bundles", path: "/api/envreg/v1alpha1/versions",
			body: map[string]any{
				"name": "sample", "version": "0.0.1", "signature": "c2ln", "dependencies": []any{}, "bundles": []any{},
			}, keyword: "minItems"},
		{name: "empty uri", path: "/api/envreg/v1alpha1/versions",
			body: map[string]any{
				"name": "sample", "version": "0.0.1", "signature": "c2ln", "dependencies": []any{},
				"bundles": []any{map[string]string{"type": "dll", "uri": "", "crc": "c", "hash": "h"}},
			}, keyword: "minLength"},
		{name: "update without uri", path: "/api/envreg/v1alpha1/versions",
			body: map[string]string{"name": "sample", "version": "0.0.1", "signature": "c2ln"}, keyword: "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if tt.name == "update without uri" {
				method = http.MethodPut
			}
			w := doJSON(t, h, method, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var body struct {
				Error       string            `json:"error"`
				Validations []ValidationIssue `json:"validations"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			require.NotEmpty(t, body.Validations)
			var keywords []string
			for _, v := range body.Validations {
				keywords = append(keywords, v.Keyword)
			}
			assert.Contains(t, keywords, tt.keyword)
		})
	}

	w := doJSON(t, h, http.MethodPost, "/api/envreg/v1alpha1/versions", "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON")
}

func TestHandlers_LegacyRoutes(t *testing.T) {
	h, _ := newTestRouter(t)
	_, publisher, _ := keys(t)

	w := doJSON(t, h, http.MethodPost, "/POST/namespace", namespaceRegistration(t, "sample", publisher))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Environment namespace sample registered.")

	w = doJSON(t, h, http.MethodPost, "/POST/version", signedVersion(t, publisher, "sample", "0.0.1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = doJSON(t, h, http.MethodPost, "/POST/version", signedVersion(t, publisher, "sample", "0.0.2"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/GET/version", nil)
	req.Header.Set("name", "sample")
	req.Header.Set("version", "0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0.0.1", decode[VersionManifest](t, rec).Version)

	// Without a version the latest one is served.
	w = doJSON(t, h, http.MethodGet, "/GET/version?name=sample", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.0.2", decode[VersionManifest](t, w).Version)

	w = doJSON(t, h, http.MethodGet, "/GET/version", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/GET/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []EnvironmentVersions{{Name: "sample", Versions: []string{"0.0.1", "0.0.2"}}}, decode[[]EnvironmentVersions](t, w))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(CodeAuthenticationFailed))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNamespaceNotRegistered))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeConcurrentRegistration))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeInvalidDependencyPrefix))
	assert.Equal(t, http.StatusNotImplemented, HTTPStatus(CodeNotImplemented))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("SOMETHING_ELSE"))
}
