package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/envhub/env-registry/pkg/envreg"
)

// Recorder appends one audit event per registration attempt. It is
// registered on the envreg.Registrar as an observer.
type Recorder struct {
	store  *AuditStore
	cfg    *AuditConfig
	logger *slog.Logger
	now    func() time.Time
}

var _ envreg.RegistrationObserver = (*Recorder)(nil)

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *AuditStore, cfg *AuditConfig, logger *slog.Logger) *Recorder {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// RegistrationFinished records ev. Write failures are logged and never
// reach the caller.
func (rec *Recorder) RegistrationFinished(ctx context.Context, ev envreg.RegistrationEvent) {
	if rec.store == nil || !rec.cfg.Enabled {
		return
	}
	outcome := outcomeFromEvent(ev)
	if outcome == OutcomeDenied && !rec.cfg.LogDenied {
		return
	}

	event := &AuditEventRecord{
		ID:         uuid.New().String(),
		Kind:       ev.Kind,
		Name:       ev.Name,
		Version:    ev.Version,
		Namespace:  ev.Namespace,
		Outcome:    outcome,
		Code:       ev.Code(),
		Latest:     ev.Latest,
		RequestID:  middleware.GetReqID(ctx),
		DurationMs: ev.Duration.Milliseconds(),
		CreatedAt:  rec.now(),
		EventMetadata: JSONAny{
			"state": string(ev.State),
		},
	}
	if ev.Err != nil && outcome != OutcomeError {
		event.Reason = ev.Err.Error()
	}
	if info := requestInfoFromContext(ctx); info != nil {
		info.markRecorded()
		event.CorrelationID = info.correlationID
		event.RemoteAddr = info.remoteAddr
		event.EventMetadata["method"] = info.method
		event.EventMetadata["path"] = info.path
	}

	// The request may already be cancelled; the audit write must still land.
	if err := rec.store.Append(context.WithoutCancel(ctx), event); err != nil {
		rec.logger.ErrorContext(ctx, "failed to write audit event",
			"error", err, "kind", ev.Kind, "name", ev.Name, "requestID", event.RequestID)
	}
}

// outcomeFromEvent maps a registration result to an audit outcome.
func outcomeFromEvent(ev envreg.RegistrationEvent) string {
	if ev.Succeeded() {
		return OutcomeSuccess
	}
	switch ev.Code() {
	case string(envreg.CodeAuthenticationFailed), string(envreg.CodeNamespaceNotRegistered):
		return OutcomeDenied
	case "INTERNAL":
		return OutcomeError
	default:
		return OutcomeFailure
	}
}
