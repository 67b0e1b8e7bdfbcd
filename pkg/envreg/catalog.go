package envreg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/envhub/env-registry/pkg/version"
)

// Catalog stores environment names, their versions and bundle manifests,
// and keeps exactly one latest version per name.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog creates a new Catalog.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// versionRow is a version joined with its name.
type versionRow struct {
	ID        uint
	Name      string
	Namespace string
	Version   string
	Latest    *bool
	CreatedAt time.Time
}

func (r versionRow) toEnvironmentVersion() *EnvironmentVersion {
	return &EnvironmentVersion{
		ID:        r.ID,
		Name:      r.Name,
		Namespace: r.Namespace,
		Version:   r.Version,
		Latest:    r.Latest != nil && *r.Latest,
		CreatedAt: r.CreatedAt,
	}
}

func versionQuery(tx *gorm.DB) *gorm.DB {
	return tx.Table("environment_versions AS v").
		Select("v.id, n.name, n.namespace, v.version, v.latest, v.created_at").
		Joins("JOIN environment_names AS n ON n.id = v.environment_name_id")
}

// firstVersion runs q and returns its first row, or nil if there is none.
func firstVersion(q *gorm.DB) (*versionRow, error) {
	var rows []versionRow
	if err := q.Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func lookupVersion(tx *gorm.DB, name, ver string) (*versionRow, error) {
	row, err := firstVersion(versionQuery(tx).Where("n.name = ? AND v.version = ?", name, ver))
	if err != nil {
		return nil, fmt.Errorf("find version %s@%s: %w", name, ver, err)
	}
	return row, nil
}

func lookupLatest(tx *gorm.DB, name string) (*versionRow, error) {
	row, err := firstVersion(versionQuery(tx).Where("n.name = ? AND v.latest = ?", name, true))
	if err != nil {
		return nil, fmt.Errorf("find latest version of %s: %w", name, err)
	}
	return row, nil
}

// versionsByID loads version rows keyed by id.
func versionsByID(tx *gorm.DB, ids []uint) (map[uint]versionRow, error) {
	out := make(map[uint]versionRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []versionRow
	if err := versionQuery(tx).Where("v.id IN ?", ids).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// bundlesByVersion loads the bundle manifests of the given versions in
// insertion order, keyed by version id.
func bundlesByVersion(tx *gorm.DB, ids []uint) (map[uint][]BundleManifestRecord, error) {
	out := make(map[uint][]BundleManifestRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var records []BundleManifestRecord
	if err := tx.Where("environment_version_id IN ?", ids).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load bundle manifests: %w", err)
	}
	for _, r := range records {
		out[r.EnvironmentVersionID] = append(out[r.EnvironmentVersionID], r)
	}
	return out, nil
}

// FindVersion returns one version, or nil, nil if it is not registered.
func (c *Catalog) FindVersion(ctx context.Context, name, ver string) (*EnvironmentVersion, error) {
	row, err := lookupVersion(c.db.WithContext(ctx), name, ver)
	if err != nil || row == nil {
		return nil, err
	}
	return row.toEnvironmentVersion(), nil
}

// FindLatest returns the latest version of name, or nil, nil if name has no
// versions.
func (c *Catalog) FindLatest(ctx context.Context, name string) (*EnvironmentVersion, error) {
	row, err := lookupLatest(c.db.WithContext(ctx), name)
	if err != nil || row == nil {
		return nil, err
	}
	return row.toEnvironmentVersion(), nil
}

// Revision returns the number of registered versions plus registered
// namespaces. Neither is ever deleted, so the value grows with every
// committed registration on any replica sharing the database.
func (c *Catalog) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := c.db.WithContext(ctx).
		Raw("SELECT (SELECT COUNT(*) FROM environment_versions) + (SELECT COUNT(*) FROM environment_namespaces)").
		Scan(&rev).Error
	if err != nil {
		return 0, fmt.Errorf("read catalog revision: %w", err)
	}
	return rev, nil
}

// ListAll returns every name with its versions. Names are listed in the
// order they were first registered and versions in registration order.
func (c *Catalog) ListAll(ctx context.Context) ([]EnvironmentVersions, error) {
	var rows []versionRow
	if err := versionQuery(c.db.WithContext(ctx)).Order("n.id ASC").Order("v.id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	out := make([]EnvironmentVersions, 0)
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1].Name == r.Name {
			out[n-1].Versions = append(out[n-1].Versions, r.Version)
			continue
		}
		out = append(out, EnvironmentVersions{Name: r.Name, Versions: []string{r.Version}})
	}
	return out, nil
}

// GetWithDependencies returns the manifest of one version: all of its
// bundles and, for each direct dependency, the dependency's dll bundles.
// Returns nil, nil if the version is not registered.
func (c *Catalog) GetWithDependencies(ctx context.Context, name, ver string) (*VersionManifest, error) {
	var manifest *VersionManifest
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lookupVersion(tx, name, ver)
		if err != nil || row == nil {
			return err
		}
		manifest, err = c.manifest(tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// GetLatestWithDependencies is GetWithDependencies for the latest version.
func (c *Catalog) GetLatestWithDependencies(ctx context.Context, name string) (*VersionManifest, error) {
	var manifest *VersionManifest
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lookupLatest(tx, name)
		if err != nil || row == nil {
			return err
		}
		manifest, err = c.manifest(tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func (c *Catalog) manifest(tx *gorm.DB, row *versionRow) (*VersionManifest, error) {
	depIDs, err := directDependencies(tx, row.ID)
	if err != nil {
		return nil, err
	}
	deps, err := versionsByID(tx, depIDs)
	if err != nil {
		return nil, err
	}
	bundles, err := bundlesByVersion(tx, append([]uint{row.ID}, depIDs...))
	if err != nil {
		return nil, err
	}

	m := &VersionManifest{
		Name:         row.Name,
		Version:      row.Version,
		Latest:       row.Latest != nil && *row.Latest,
		Bundles:      make([]BundleManifest, 0, len(bundles[row.ID])),
		Dependencies: make([]DependencyManifest, 0, len(depIDs)),
	}
	for _, b := range bundles[row.ID] {
		m.Bundles = append(m.Bundles, bundleFromRecord(b))
	}
	for _, id := range depIDs {
		d, ok := deps[id]
		if !ok {
			continue
		}
		m.Dependencies = append(m.Dependencies, DependencyManifest{
			Name:    d.Name,
			Version: d.Version,
			Bundles: dllBundles(bundles[id]),
		})
	}
	return m, nil
}

// ensureName returns the name record, creating it for namespace if this is
// the first registration of name.
func (c *Catalog) ensureName(tx *gorm.DB, name, namespace string) (*EnvironmentNameRecord, error) {
	var rec EnvironmentNameRecord
	err := tx.Where("name = ?", name).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get environment name: %w", err)
	}

	rec = EnvironmentNameRecord{Name: name, Namespace: namespace}
	if err := tx.Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("create environment name: %w", err)
	}
	return &rec, nil
}

// insertVersion inserts ver for nameID. The new row takes the latest flag
// if name has no latest version yet or ver compares greater than it.
func (c *Catalog) insertVersion(tx *gorm.DB, nameID uint, ver string) (*EnvironmentVersionRecord, error) {
	var current []EnvironmentVersionRecord
	if err := tx.Where("environment_name_id = ? AND latest = ?", nameID, true).Limit(1).Find(&current).Error; err != nil {
		return nil, fmt.Errorf("get latest version: %w", err)
	}

	rec := &EnvironmentVersionRecord{EnvironmentNameID: nameID, Version: ver}
	if len(current) == 0 || version.Compare(ver, current[0].Version) > 0 {
		if len(current) > 0 {
			if err := tx.Model(&EnvironmentVersionRecord{}).Where("id = ?", current[0].ID).Update("latest", nil).Error; err != nil {
				return nil, fmt.Errorf("clear latest version: %w", err)
			}
		}
		rec.Latest = boolPtr(true)
	}

	if err := tx.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return rec, nil
}

// insertBundles attaches bundles to a version in submission order.
func (c *Catalog) insertBundles(tx *gorm.DB, versionID uint, bundles []BundleManifest) error {
	if len(bundles) == 0 {
		return nil
	}
	records := make([]BundleManifestRecord, len(bundles))
	for i, b := range bundles {
		records[i] = BundleManifestRecord{
			EnvironmentVersionID: versionID,
			Type:                 b.Type,
			URI:                  b.URI,
			CRC:                  b.CRC,
			Hash:                 b.Hash,
		}
	}
	if err := tx.Create(&records).Error; err != nil {
		return fmt.Errorf("create bundle manifests: %w", err)
	}
	return nil
}
