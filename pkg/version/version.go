// Package version parses, validates and orders the dotted triplet version
// strings ("major.minor.patch", each field 1-3 digits) used by environment
// versions.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// fieldBase is the weight of each triplet field; every field fits in 0-999.
const fieldBase = 1000

var versionRegex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}$`)

// FormatHint is the human-readable shape of a valid version.
const FormatHint = "x.x.x, a sequence of three '.' separated numbers 0-999 (e.g 1.12.132)"

// Triplet is a parsed version.
type Triplet struct {
	Major int
	Minor int
	Patch int
}

// Validate reports whether v is a well-formed version string.
func Validate(v string) bool {
	return versionRegex.MatchString(v)
}

// Parse validates v and splits it into its three fields.
func Parse(v string) (Triplet, error) {
	if !Validate(v) {
		return Triplet{}, fmt.Errorf("version %q is not of the form %s", v, FormatHint)
	}
	fields := strings.Split(v, ".")
	var parsed [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Triplet{}, fmt.Errorf("parse version field %q: %w", f, err)
		}
		parsed[i] = n
	}
	return Triplet{Major: parsed[0], Minor: parsed[1], Patch: parsed[2]}, nil
}

// Value folds the triplet into a single integer, treating each field as a
// base-1000 digit.
func (t Triplet) Value() int64 {
	return int64(t.Major)*fieldBase*fieldBase + int64(t.Minor)*fieldBase + int64(t.Patch)
}

// String renders the triplet in canonical form (no leading zeros).
func (t Triplet) String() string {
	return fmt.Sprintf("%d.%d.%d", t.Major, t.Minor, t.Patch)
}

// tripletOf parses v, treating every field that is not a number as zero
// when v is not a valid version.
func tripletOf(v string) Triplet {
	if t, err := Parse(v); err == nil {
		return t
	}
	var fields [3]int
	for i, f := range strings.Split(v, ".") {
		if i == len(fields) {
			break
		}
		fields[i], _ = strconv.Atoi(f)
	}
	return Triplet{Major: fields[0], Minor: fields[1], Patch: fields[2]}
}

// Compare returns -1, 0 or 1 depending on whether a orders before, equal to
// or after b. Both versions must have been validated; the result for an
// invalid version is unspecified.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	va, vb := tripletOf(a).Value(), tripletOf(b).Value()
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}

// Greater reports whether a orders strictly after b.
func Greater(a, b string) bool {
	return Compare(a, b) > 0
}
