package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Outcomes recorded on audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AuditEventRecord is an immutable audit log entry for one registration
// attempt or one rejected write request.
type AuditEventRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Kind          string    `gorm:"column:kind;index:idx_audit_kind_time,priority:1;not null"`
	Name          string    `gorm:"column:name;index:idx_audit_name_time,priority:1"`
	Version       string    `gorm:"column:version"`
	Namespace     string    `gorm:"column:namespace;index:idx_audit_ns_time,priority:1"`
	Outcome       string    `gorm:"column:outcome;not null"` // success, failure, denied, error
	Code          string    `gorm:"column:code"`
	Reason        string    `gorm:"column:reason"`
	Latest        bool      `gorm:"column:latest"`
	RequestID     string    `gorm:"column:request_id;index"`
	CorrelationID string    `gorm:"column:correlation_id"`
	RemoteAddr    string    `gorm:"column:remote_addr"`
	StatusCode    int       `gorm:"column:status_code"`
	DurationMs    int64     `gorm:"column:duration_ms"`
	EventMetadata JSONAny   `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_kind_time,priority:2;index:idx_audit_name_time,priority:2;index:idx_audit_ns_time,priority:2;index"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "audit_events" }

// AutoMigrate creates or updates the audit table.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&AuditEventRecord{}); err != nil {
		return fmt.Errorf("migrate audit events: %w", err)
	}
	return nil
}
