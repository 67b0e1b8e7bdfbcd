package envreg

import (
	"fmt"
	"strings"
	"time"

	"github.com/envhub/env-registry/pkg/signature"
)

// BundleType is the kind of artifact a bundle manifest references.
type BundleType string

const (
	BundleTypeEnv BundleType = "env"
	BundleTypeDLL BundleType = "dll"
)

// Valid reports whether t is one of the known bundle types.
func (t BundleType) Valid() bool {
	return t == BundleTypeEnv || t == BundleTypeDLL
}

// NamespaceRegistration asks the registry to bind Key to Namespace. Key is a
// base64 encoded PEM public key and Signature the admin signature over
// Namespace+Key.
type NamespaceRegistration struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Key       string `json:"key" yaml:"key"`
	Signature string `json:"signature" yaml:"signature"`
}

// Validate checks that every field is present.
func (r *NamespaceRegistration) Validate() error {
	switch {
	case r.Namespace == "":
		return validationError("namespace is required")
	case r.Key == "":
		return validationError("key is required")
	case r.Signature == "":
		return validationError("signature is required")
	}
	return nil
}

// BundleManifest references one artifact by uri, crc and hash.
type BundleManifest struct {
	Type BundleType `json:"type" yaml:"type"`
	URI  string     `json:"uri" yaml:"uri"`
	CRC  string     `json:"crc" yaml:"crc"`
	Hash string     `json:"hash" yaml:"hash"`
}

// Validate checks the type and that no field is empty.
func (b *BundleManifest) Validate() error {
	if !b.Type.Valid() {
		return validationError(fmt.Sprintf("bundle type must be %q or %q, got %q", BundleTypeEnv, BundleTypeDLL, b.Type))
	}
	if b.URI == "" || b.CRC == "" || b.Hash == "" {
		return validationError(fmt.Sprintf("%s bundle must have a non-empty uri, crc and hash", b.Type))
	}
	return nil
}

// DependencyRef names an exact version of another environment.
type DependencyRef struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String returns name@version.
func (d DependencyRef) String() string {
	return d.Name + "@" + d.Version
}

// VersionRegistration publishes a new version of an environment.
type VersionRegistration struct {
	Name         string           `json:"name" yaml:"name"`
	Version      string           `json:"version" yaml:"version"`
	Bundles      []BundleManifest `json:"bundles" yaml:"bundles"`
	Dependencies []DependencyRef  `json:"dependencies" yaml:"dependencies"`
	Signature    string           `json:"signature" yaml:"signature,omitempty"`
}

// Validate checks required fields and every bundle. The version format is
// checked separately so that it reports MalformedVersion.
func (r *VersionRegistration) Validate() error {
	if r.Name == "" {
		return validationError("name is required")
	}
	if strings.HasPrefix(r.Name, ".") || strings.HasSuffix(r.Name, ".") || strings.Contains(r.Name, "..") {
		return validationError(fmt.Sprintf("name %q has an empty segment", r.Name))
	}
	if r.Signature == "" {
		return validationError("signature is required")
	}
	if len(r.Bundles) == 0 {
		return validationError("at least one bundle is required")
	}
	for i := range r.Bundles {
		if err := r.Bundles[i].Validate(); err != nil {
			return err
		}
	}
	for _, d := range r.Dependencies {
		if d.Name == "" || d.Version == "" {
			return validationError("dependency name and version are required")
		}
	}
	return nil
}

// Message returns the canonical bytes the publisher signs.
func (r *VersionRegistration) Message() []byte {
	bundles := make([]signature.Bundle, len(r.Bundles))
	for i, b := range r.Bundles {
		bundles[i] = signature.Bundle{Type: string(b.Type), URI: b.URI, CRC: b.CRC, Hash: b.Hash}
	}
	deps := make([]signature.Dependency, len(r.Dependencies))
	for i, d := range r.Dependencies {
		deps[i] = signature.Dependency{Name: d.Name, Version: d.Version}
	}
	return signature.RegistrationMessage(r.Name, r.Version, bundles, deps)
}

// VersionUpdate asks to change the uri of an existing version.
type VersionUpdate struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	URI       string `json:"uri" yaml:"uri"`
	Signature string `json:"signature" yaml:"signature"`
}

// Validate checks that every field is present.
func (u *VersionUpdate) Validate() error {
	if u.Name == "" || u.Version == "" || u.URI == "" || u.Signature == "" {
		return validationError("name, version, uri and signature are required")
	}
	return nil
}

// Message returns the canonical bytes the publisher signs.
func (u *VersionUpdate) Message() []byte {
	return signature.UpdateMessage(u.Name, u.Version, u.URI)
}

// NamespaceInfo describes a registered namespace without its key.
type NamespaceInfo struct {
	Namespace string    `json:"namespace" yaml:"namespace"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// RegistrationResult is returned after a version is committed.
type RegistrationResult struct {
	Name      string `json:"name" yaml:"name"`
	Version   string `json:"version" yaml:"version"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Latest    bool   `json:"latest" yaml:"latest"`
}

// EnvironmentVersion is a version row resolved to its name.
type EnvironmentVersion struct {
	ID        uint      `json:"-" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Version   string    `json:"version" yaml:"version"`
	Latest    bool      `json:"latest" yaml:"latest"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// DependencyManifest is a dependency as exposed to consumers: only its dll
// bundles are listed.
type DependencyManifest struct {
	Name    string           `json:"name" yaml:"name"`
	Version string           `json:"version" yaml:"version"`
	Bundles []BundleManifest `json:"bundles" yaml:"bundles"`
}

// VersionManifest is a version with all its bundles and its direct
// dependencies.
type VersionManifest struct {
	Name         string               `json:"name" yaml:"name"`
	Version      string               `json:"version" yaml:"version"`
	Latest       bool                 `json:"latest" yaml:"latest"`
	Bundles      []BundleManifest     `json:"bundles" yaml:"bundles"`
	Dependencies []DependencyManifest `json:"dependencies" yaml:"dependencies"`
}

// ClosureManifest is a version with every version reachable through its
// dependency edges, in breadth-first order from the root.
type ClosureManifest struct {
	Name         string               `json:"name" yaml:"name"`
	Version      string               `json:"version" yaml:"version"`
	Bundles      []BundleManifest     `json:"bundles" yaml:"bundles"`
	Dependencies []DependencyManifest `json:"dependencies" yaml:"dependencies"`
}

// EnvironmentVersions lists the versions of one name in registration order.
type EnvironmentVersions struct {
	Name     string   `json:"name" yaml:"name"`
	Versions []string `json:"versions" yaml:"versions"`
}

func bundleFromRecord(r BundleManifestRecord) BundleManifest {
	return BundleManifest{Type: r.Type, URI: r.URI, CRC: r.CRC, Hash: r.Hash}
}

// dllBundles converts records, keeping only dll bundles.
func dllBundles(records []BundleManifestRecord) []BundleManifest {
	out := make([]BundleManifest, 0, len(records))
	for _, r := range records {
		if r.Type == BundleTypeDLL {
			out = append(out, bundleFromRecord(r))
		}
	}
	return out
}
