package audit

import (
	"os"
	"strconv"
	"time"
)

// AuditConfig controls which registration events are written and how long
// they are kept.
type AuditConfig struct {
	Enabled       bool
	LogDenied     bool // record signature and unknown-namespace rejections
	RetentionDays int
	SweepInterval time.Duration
}

// DefaultAuditConfig keeps 90 days of events and sweeps once a day.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:       true,
		LogDenied:     true,
		RetentionDays: 90,
		SweepInterval: 24 * time.Hour,
	}
}

// AuditConfigFromEnv reads ENVREG_AUDIT_ENABLED, ENVREG_AUDIT_LOG_DENIED,
// ENVREG_AUDIT_RETENTION_DAYS and ENVREG_AUDIT_SWEEP_INTERVAL (seconds).
// Unparseable or non-positive values keep the default.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if b, err := strconv.ParseBool(os.Getenv("ENVREG_AUDIT_ENABLED")); err == nil {
		cfg.Enabled = b
	}
	if b, err := strconv.ParseBool(os.Getenv("ENVREG_AUDIT_LOG_DENIED")); err == nil {
		cfg.LogDenied = b
	}
	if days, err := strconv.Atoi(os.Getenv("ENVREG_AUDIT_RETENTION_DAYS")); err == nil && days > 0 {
		cfg.RetentionDays = days
	}
	if secs, err := strconv.Atoi(os.Getenv("ENVREG_AUDIT_SWEEP_INTERVAL")); err == nil && secs > 0 {
		cfg.SweepInterval = time.Duration(secs) * time.Second
	}

	return cfg
}

// retention returns the maximum event age, zero when retention is off.
func (c *AuditConfig) retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
