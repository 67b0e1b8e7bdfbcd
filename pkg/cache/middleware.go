package cache

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// cacheResponseWriter wraps http.ResponseWriter to capture the response body
// and status code so they can be stored in the cache.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// cacheKey is the request URI plus the name and version headers read by
// the legacy lookup route.
func cacheKey(r *http.Request) string {
	key := r.URL.RequestURI()
	name, ver := r.Header.Get("name"), r.Header.Get("version")
	if name == "" && ver == "" {
		return key
	}
	return strings.Join([]string{key, name, ver}, "\x00")
}

// RevisionFunc reports a number that grows with every write committed to
// the data behind the cached responses, by this process or any other.
type RevisionFunc func(ctx context.Context) (int64, error)

// CacheMiddleware returns HTTP middleware that caches GET responses in c.
//
// Behavior:
//   - Only GET requests are cached; all other methods pass through.
//   - On cache hit: the cached body is written with its original Content-Type
//     and a 200 status. An X-Cache: HIT header is added.
//   - On cache miss: the handler is called; if it returns 200, the response
//     body is stored in the cache. An X-Cache: MISS header is added.
//   - Non-200 responses are never cached.
func CacheMiddleware(c *ResponseCache) func(http.Handler) http.Handler {
	return RevisionCacheMiddleware(c, nil, nil)
}

// RevisionCacheMiddleware is CacheMiddleware that reads the current revision
// before every GET and drops the cache once it moves. Writes committed by
// other processes then invalidate this cache too. If the revision cannot be
// read the request is served uncached.
func RevisionCacheMiddleware(c *ResponseCache, revision RevisionFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			gen, current := c.Generation(), true
			if revision != nil {
				rev, err := revision(r.Context())
				if err != nil {
					logger.WarnContext(r.Context(), "lookup cache bypassed", "error", err)
					next.ServeHTTP(w, r)
					return
				}
				gen, current = c.Observe(rev)
			}

			key := cacheKey(r)
			if current {
				if cached, ok := c.Get(key); ok {
					if cached.contentType != "" {
						w.Header().Set("Content-Type", cached.contentType)
					}
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write(cached.body)
					return
				}
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(crw, r)

			if current && crw.statusCode == http.StatusOK {
				c.Set(key, cachedResponse{
					body:        bytes.Clone(crw.body.Bytes()),
					contentType: crw.Header().Get("Content-Type"),
				}, gen)
			}
		})
	}
}
