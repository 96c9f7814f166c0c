package filter

import (
	"strings"

	"github.com/gobwas/glob"
)

// PackageOfName returns the package of a dotted name, "" for the root package.
func PackageOfName(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[:i]
}

// PackageOfPath returns the package of a resource path.
func PackageOfPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(path[:i], "/", ".")
}

// NameOfPath converts a resource path into a dotted name, dropping any
// extension on the last element.
func NameOfPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		path = path[:i]
	}
	return strings.ReplaceAll(path, "/", ".")
}

// PathOfName converts a dotted name into a package-relative resource path
// prefix ("acme.util.Strings" becomes "acme/util/Strings").
func PathOfName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// IsPattern reports whether s carries glob wildcards.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Pattern is a compiled package-name pattern.
type Pattern struct {
	raw string
	g   glob.Glob
}

// CompilePattern compiles a package pattern such as "acme.*". A string with no
// wildcards compiles to an exact match.
func CompilePattern(raw string) (Pattern, error) {
	if !IsPattern(raw) {
		return Pattern{raw: raw}, nil
	}
	g, err := glob.Compile(raw)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{raw: raw, g: g}, nil
}

// Match reports whether pkg matches the pattern.
func (p Pattern) Match(pkg string) bool {
	if p.g == nil {
		return pkg == p.raw
	}
	return p.g.Match(pkg)
}

func (p Pattern) String() string { return p.raw }
