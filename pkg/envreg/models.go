package envreg

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// NamespaceRecord maps a namespace to the public key its publishers sign with.
// Rows are never updated or deleted.
type NamespaceRecord struct {
	Namespace string    `gorm:"primaryKey;column:namespace;type:varchar(255)"`
	PublicKey string    `gorm:"column:public_key;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (NamespaceRecord) TableName() string { return "environment_namespaces" }

// EnvironmentNameRecord is a dotted environment name. Namespace is the
// namespace that registered the first version and never changes.
type EnvironmentNameRecord struct {
	ID        uint             `gorm:"primaryKey;column:id;autoIncrement"`
	Name      string           `gorm:"column:name;type:varchar(255);uniqueIndex:idx_env_name;not null"`
	Namespace string           `gorm:"column:namespace;type:varchar(255);index;not null"`
	Owner     *NamespaceRecord `gorm:"foreignKey:Namespace;references:Namespace"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (EnvironmentNameRecord) TableName() string { return "environment_names" }

// EnvironmentVersionRecord is one immutable version of an environment.
//
// Latest is either true or NULL. The unique index over (environment_name_id,
// latest) therefore allows any number of non-latest rows but at most one
// latest row per name, on every supported database.
type EnvironmentVersionRecord struct {
	ID                uint                   `gorm:"primaryKey;column:id;autoIncrement"`
	EnvironmentNameID uint                   `gorm:"column:environment_name_id;not null;uniqueIndex:idx_env_version,priority:1;uniqueIndex:idx_env_version_latest,priority:1"`
	EnvironmentName   *EnvironmentNameRecord `gorm:"foreignKey:EnvironmentNameID"`
	Version           string                 `gorm:"column:version;type:varchar(11);not null;uniqueIndex:idx_env_version,priority:2"`
	Latest            *bool                  `gorm:"column:latest;uniqueIndex:idx_env_version_latest,priority:2"`
	Bundles           []BundleManifestRecord `gorm:"foreignKey:EnvironmentVersionID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (EnvironmentVersionRecord) TableName() string { return "environment_versions" }

// IsLatest reports whether the row carries the latest flag.
func (r *EnvironmentVersionRecord) IsLatest() bool {
	return r.Latest != nil && *r.Latest
}

// BundleManifestRecord references one typed artifact of a version.
type BundleManifestRecord struct {
	ID                   uint       `gorm:"primaryKey;column:id;autoIncrement"`
	EnvironmentVersionID uint       `gorm:"column:environment_version_id;not null;uniqueIndex:idx_bundle_version_type,priority:1"`
	Type                 BundleType `gorm:"column:type;type:varchar(16);not null;uniqueIndex:idx_bundle_version_type,priority:2"`
	URI                  string     `gorm:"column:uri;type:text;not null"`
	CRC                  string     `gorm:"column:crc;type:varchar(255);not null"`
	Hash                 string     `gorm:"column:hash;type:varchar(255);not null"`
}

// TableName returns the GORM table name.
func (BundleManifestRecord) TableName() string { return "bundle_manifests" }

// DependencyEdgeRecord is a directed "depends on" edge between two versions.
// Position keeps the submission order of a version's dependencies.
type DependencyEdgeRecord struct {
	DependentID  uint                      `gorm:"primaryKey;column:dependent_id;autoIncrement:false"`
	Dependent    *EnvironmentVersionRecord `gorm:"foreignKey:DependentID;constraint:OnDelete:CASCADE"`
	DependencyID uint                      `gorm:"primaryKey;column:dependency_id;autoIncrement:false;index"`
	Dependency   *EnvironmentVersionRecord `gorm:"foreignKey:DependencyID"`
	Position     int                       `gorm:"column:position;not null;default:0"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (DependencyEdgeRecord) TableName() string { return "environment_dependencies" }

var errSelfDependency = errors.New("an environment version cannot depend on itself")

// BeforeCreate rejects self-loops.
func (e *DependencyEdgeRecord) BeforeCreate(_ *gorm.DB) error {
	if e.DependentID == e.DependencyID {
		return errSelfDependency
	}
	return nil
}

// AutoMigrate creates or updates the registry tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allRecords()...); err != nil {
		return fmt.Errorf("auto-migrate registry tables: %w", err)
	}
	return nil
}

// allRecords lists the registry tables in creation order.
func allRecords() []any {
	return []any{
		&NamespaceRecord{},
		&EnvironmentNameRecord{},
		&EnvironmentVersionRecord{},
		&BundleManifestRecord{},
		&DependencyEdgeRecord{},
	}
}

func boolPtr(b bool) *bool { return &b }
