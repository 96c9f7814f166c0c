package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3. The zero
// Version compares equal to DefaultVersion.
type Version struct {
	v *mm.Version
}

// Comparator orders two versions, returning -1, 0 or 1.
type Comparator func(a, b Version) int

var defaultVersion = mm.MustParse("0.0.0")

// DefaultVersion is the version assigned when none is specified.
func DefaultVersion() Version {
	return Version{v: defaultVersion}
}

func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultVersion(), nil
	}
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.v == nil {
		return defaultVersion.String()
	}
	return v.v.String()
}

func (v Version) inner() *mm.Version {
	if v.v == nil {
		return defaultVersion
	}
	return v.v
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	return a.inner().Compare(b.inner())
}

// MaxInRange returns the highest version in candidates that r contains.
//
// If multiple versions are equal, the first encountered wins.
func MaxInRange(r Range, candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !r.IsInRange(candidate) {
			continue
		}
		if !found || Compare(candidate, best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}
