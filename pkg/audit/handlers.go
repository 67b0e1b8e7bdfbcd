package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListEventsHandler handles GET /api/audit/v1alpha1/events
// Query params: kind, outcome, name, namespace, pageSize, pageToken
func ListEventsHandler(store *AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{
			Kind:      q.Get("kind"),
			Outcome:   q.Get("outcome"),
			Name:      q.Get("name"),
			Namespace: q.Get("namespace"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		switch filter.Outcome {
		case "", OutcomeSuccess, OutcomeFailure, OutcomeDenied, OutcomeError:
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown outcome %q", filter.Outcome))
			return
		}
		pageToken := q.Get("pageToken")
		if pageToken != "" {
			if _, err := time.Parse(time.RFC3339Nano, pageToken); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid pageToken %q", pageToken))
				return
			}
		}

		records, nextToken, total, err := store.ListFiltered(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			slog.ErrorContext(r.Context(), "list audit events", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		events := make([]auditEventResponse, len(records))
		for i, rec := range records {
			events[i] = recordToResponse(rec)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1alpha1/events/{eventId}
func GetEventHandler(store *AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := store.GetByID(r.Context(), eventID)
		if err != nil {
			slog.ErrorContext(r.Context(), "get audit event", "error", err, "id", eventID)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, recordToResponse(*record))
	}
}

// auditEventResponse is the API response for an audit event.
type auditEventResponse struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Name          string         `json:"name,omitempty"`
	Version       string         `json:"version,omitempty"`
	Namespace     string         `json:"namespace,omitempty"`
	Outcome       string         `json:"outcome"`
	Code          string         `json:"code,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Latest        bool           `json:"latest,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RemoteAddr    string         `json:"remoteAddr,omitempty"`
	StatusCode    int            `json:"statusCode,omitempty"`
	DurationMs    int64          `json:"durationMs"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

func recordToResponse(rec AuditEventRecord) auditEventResponse {
	return auditEventResponse{
		ID:            rec.ID,
		Kind:          rec.Kind,
		Name:          rec.Name,
		Version:       rec.Version,
		Namespace:     rec.Namespace,
		Outcome:       rec.Outcome,
		Code:          rec.Code,
		Reason:        rec.Reason,
		Latest:        rec.Latest,
		RequestID:     rec.RequestID,
		CorrelationID: rec.CorrelationID,
		RemoteAddr:    rec.RemoteAddr,
		StatusCode:    rec.StatusCode,
		DurationMs:    rec.DurationMs,
		Metadata:      map[string]any(rec.EventMetadata),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
