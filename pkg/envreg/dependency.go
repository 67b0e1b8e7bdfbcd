package envreg

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
)

// Resolver validates dependency references and walks the dependency graph.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new Resolver.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ValidateDependencyPrefix reports whether depName is a strict dotted
// ancestor of envName: it has fewer segments and they equal the leading
// segments of envName. Because a name can only depend on shorter names, the
// dependency graph cannot contain cycles.
func ValidateDependencyPrefix(envName, depName string) bool {
	env := strings.Split(envName, ".")
	dep := strings.Split(depName, ".")
	if len(dep) >= len(env) {
		return false
	}
	for i := range dep {
		if dep[i] != env[i] {
			return false
		}
	}
	return true
}

// ResolveIDs resolves each dependency of envName to a version id. It fails
// with InvalidDependencyPrefix if a dependency is not an ancestor of envName,
// and returns nil, nil if any dependency is not registered.
func (r *Resolver) ResolveIDs(ctx context.Context, envName string, deps []DependencyRef) ([]uint, error) {
	return r.resolveIDs(r.db.WithContext(ctx), envName, deps)
}

func (r *Resolver) resolveIDs(tx *gorm.DB, envName string, deps []DependencyRef) ([]uint, error) {
	for _, d := range deps {
		if !ValidateDependencyPrefix(envName, d.Name) {
			return nil, newError(CodeInvalidDependencyPrefix,
				fmt.Sprintf("dependency %s is not an ancestor of %s: a dependency must name a shorter dotted prefix of the environment", d, envName), nil)
		}
	}

	ids := make([]uint, 0, len(deps))
	for _, d := range deps {
		row, err := lookupVersion(tx, d.Name, d.Version)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// MissingDependencies lists the dependencies that are not registered.
func (r *Resolver) MissingDependencies(ctx context.Context, deps []DependencyRef) ([]DependencyRef, error) {
	var missing []DependencyRef
	for _, d := range deps {
		row, err := lookupVersion(r.db.WithContext(ctx), d.Name, d.Version)
		if err != nil {
			return nil, err
		}
		if row == nil {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// directDependencies returns the dependency ids of one version in
// submission order.
func directDependencies(tx *gorm.DB, id uint) ([]uint, error) {
	var edges []DependencyEdgeRecord
	if err := tx.Where("dependent_id = ?", id).Order("position ASC").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}
	ids := make([]uint, len(edges))
	for i, e := range edges {
		ids[i] = e.DependencyID
	}
	return ids, nil
}

// TransitiveClosure returns startID followed by every version reachable
// from it through dependency edges, breadth first. Each version appears
// once even if several paths reach it.
func (r *Resolver) TransitiveClosure(ctx context.Context, startID uint) ([]uint, error) {
	return transitiveClosure(r.db.WithContext(ctx), startID)
}

func transitiveClosure(tx *gorm.DB, startID uint) ([]uint, error) {
	visited := mapset.NewThreadUnsafeSet(startID)
	order := []uint{startID}
	frontier := []uint{startID}

	for len(frontier) > 0 {
		var edges []DependencyEdgeRecord
		if err := tx.Where("dependent_id IN ?", frontier).Order("position ASC").Find(&edges).Error; err != nil {
			return nil, fmt.Errorf("load dependency edges: %w", err)
		}
		byDependent := make(map[uint][]uint, len(frontier))
		for _, e := range edges {
			byDependent[e.DependentID] = append(byDependent[e.DependentID], e.DependencyID)
		}

		var next []uint
		for _, id := range frontier {
			for _, dep := range byDependent[id] {
				if visited.Add(dep) {
					order = append(order, dep)
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	return order, nil
}

// Closure returns a version with its full transitive dependency set. The
// root lists all of its bundles, every dependency only its dll bundles.
// Returns nil, nil if the version is not registered.
func (r *Resolver) Closure(ctx context.Context, name, ver string) (*ClosureManifest, error) {
	var out *ClosureManifest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		root, err := lookupVersion(tx, name, ver)
		if err != nil || root == nil {
			return err
		}
		ids, err := transitiveClosure(tx, root.ID)
		if err != nil {
			return err
		}
		rows, err := versionsByID(tx, ids[1:])
		if err != nil {
			return err
		}
		bundles, err := bundlesByVersion(tx, ids)
		if err != nil {
			return err
		}

		out = &ClosureManifest{
			Name:         root.Name,
			Version:      root.Version,
			Bundles:      make([]BundleManifest, 0, len(bundles[root.ID])),
			Dependencies: make([]DependencyManifest, 0, len(ids)-1),
		}
		for _, b := range bundles[root.ID] {
			out.Bundles = append(out.Bundles, bundleFromRecord(b))
		}
		for _, id := range ids[1:] {
			row, ok := rows[id]
			if !ok {
				continue
			}
			out.Dependencies = append(out.Dependencies, DependencyManifest{
				Name:    row.Name,
				Version: row.Version,
				Bundles: dllBundles(bundles[id]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insertEdges records dependentID's dependencies. Repeated ids are stored
// once, at their first position.
func (r *Resolver) insertEdges(tx *gorm.DB, dependentID uint, ids []uint) error {
	seen := mapset.NewThreadUnsafeSet[uint]()
	edges := make([]DependencyEdgeRecord, 0, len(ids))
	for _, id := range ids {
		if !seen.Add(id) {
			continue
		}
		edges = append(edges, DependencyEdgeRecord{
			DependentID:  dependentID,
			DependencyID: id,
			Position:     len(edges),
		})
	}
	if len(edges) == 0 {
		return nil
	}
	if err := tx.Create(&edges).Error; err != nil {
		return fmt.Errorf("create dependency edges: %w", err)
	}
	return nil
}
