package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker deletes audit events older than the configured retention.
// Every replica may run one; a sweep is a single time-bounded delete.
type RetentionWorker struct {
	store     *AuditStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRetentionWorker creates a worker from cfg. A nil cfg uses the defaults.
func NewRetentionWorker(store *AuditStore, cfg *AuditConfig, logger *slog.Logger) *RetentionWorker {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionWorker{
		store:     store,
		retention: cfg.retention(),
		interval:  interval,
		logger:    logger.With("component", "audit-retention"),
		now:       time.Now,
	}
}

// Run sweeps once immediately, then every interval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("retention disabled")
		return
	}
	w.logger.Info("retention started", "retention", w.retention.String(), "interval", w.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention stopped")
			return
		case <-timer.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("retention sweep failed", "error", err)
			}
			timer.Reset(w.interval)
		}
	}
}

// Sweep deletes every event created before now minus the retention and
// returns how many were removed.
func (w *RetentionWorker) Sweep(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("expired audit events deleted", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
