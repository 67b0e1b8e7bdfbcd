package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordToResponse(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	resp := recordToResponse(AuditEventRecord{
		ID:            "evt-001",
		Kind:          "version",
		Name:          "sample.top",
		Version:       "0.0.3",
		Namespace:     "sample",
		Outcome:       OutcomeSuccess,
		RequestID:     "req-456",
		DurationMs:    12,
		EventMetadata: JSONAny{"state": "committed"},
		CreatedAt:     now,
	})

	assert.Equal(t, "evt-001", resp.ID)
	assert.Equal(t, "sample.top", resp.Name)
	assert.Equal(t, "2026-03-04T05:06:07Z", resp.CreatedAt)
	assert.Equal(t, "committed", resp.Metadata["state"])
}

func TestEventHandlers(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	base := time.Now().UTC().Add(-time.Hour)
	first := appendEvent(t, store, "version", "sample", OutcomeSuccess, base)
	appendEvent(t, store, "version", "sample.top", OutcomeFailure, base.Add(time.Minute))
	appendEvent(t, store, "namespace", "sample", OutcomeSuccess, base.Add(2*time.Minute))

	h := Router(store)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantTotal  int
	}{
		{"all", "/events", http.StatusOK, 3},
		{"by kind", "/events?kind=version", http.StatusOK, 2},
		{"by outcome", "/events?outcome=failure", http.StatusOK, 1},
		{"by name", "/events?name=sample&kind=namespace", http.StatusOK, 1},
		{"bad token", "/events?pageToken=tomorrow", http.StatusBadRequest, 0},
		{"unknown outcome", "/events?outcome=maybe", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var body struct {
				Events    []auditEventResponse `json:"events"`
				TotalSize int                  `json:"totalSize"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantTotal, body.TotalSize)
			assert.Len(t, body.Events, tt.wantTotal)
		})
	}

	t.Run("get by id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/events/"+first.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var ev auditEventResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&ev))
		assert.Equal(t, first.ID, ev.ID)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/events/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"audit event \"nope\" not found"}`, rec.Body.String())
	})
}

func TestEventHandlers_StoreFailureIsOpaque(t *testing.T) {
	gdb := newTestDB(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := httptest.NewRecorder()
	Router(NewAuditStore(gdb)).ServeHTTP(rec, httptest.NewRequest("GET", "/events", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
