package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// KindRequest marks events for write requests rejected before a
// registration started, e.g. bodies failing schema validation.
const KindRequest = "request"

type requestInfoKey struct{}

// requestInfo carries request details to the Recorder and tells the
// middleware whether the request already produced an event.
type requestInfo struct {
	method        string
	path          string
	remoteAddr    string
	correlationID string
	recorded      atomic.Bool
}

func (i *requestInfo) markRecorded() { i.recorded.Store(true) }

func requestInfoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware attaches request details for the Recorder to write
// requests, and records an event itself for write requests that finished
// without any registration being attempted.
func AuditMiddleware(store *AuditStore, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isAuditedRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			requestID := middleware.GetReqID(r.Context())
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}
			info := &requestInfo{
				method:        r.Method,
				path:          r.URL.Path,
				remoteAddr:    remoteHost(r.RemoteAddr),
				correlationID: correlationID,
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			if info.recorded.Load() {
				return
			}
			outcome := outcomeFromStatus(capture.statusCode)
			if outcome == OutcomeDenied && !cfg.LogDenied {
				return
			}

			event := &AuditEventRecord{
				ID:            uuid.New().String(),
				Kind:          KindRequest,
				Outcome:       outcome,
				RequestID:     requestID,
				CorrelationID: correlationID,
				RemoteAddr:    info.remoteAddr,
				StatusCode:    capture.statusCode,
				DurationMs:    time.Since(startTime).Milliseconds(),
				CreatedAt:     startTime,
				EventMetadata: JSONAny{
					"method": r.Method,
					"path":   r.URL.Path,
					"action": actionFromRequest(r.Method, r.URL.Path),
				},
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(context.WithoutCancel(r.Context()), event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return OutcomeDenied
	case code >= 500:
		return OutcomeError
	default:
		return OutcomeFailure
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
