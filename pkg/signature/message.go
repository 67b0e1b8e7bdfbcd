package signature

import "bytes"

// Bundle is the signed portion of a bundle manifest.
type Bundle struct {
	Type string
	URI  string
	CRC  string
	Hash string
}

// Dependency is the signed portion of a dependency reference.
type Dependency struct {
	Name    string
	Version string
}

// RegistrationMessage builds the canonical message a publisher signs for a
// version registration: name, version, every bundle's type, uri, crc and
// hash, then every dependency's name and version, in submission order and
// with no separators.
func RegistrationMessage(name, version string, bundles []Bundle, dependencies []Dependency) []byte {
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.WriteString(version)
	for _, b := range bundles {
		buf.WriteString(b.Type)
		buf.WriteString(b.URI)
		buf.WriteString(b.CRC)
		buf.WriteString(b.Hash)
	}
	for _, d := range dependencies {
		buf.WriteString(d.Name)
		buf.WriteString(d.Version)
	}
	return buf.Bytes()
}

// NamespaceMessage is signed by the registry admin to authorize a namespace.
// key is the base64 text exactly as submitted.
func NamespaceMessage(namespace, key string) []byte {
	return []byte(namespace + key)
}

// UpdateMessage is signed by a publisher to update a version's uri.
func UpdateMessage(name, version, uri string) []byte {
	return []byte(name + version + uri)
}
