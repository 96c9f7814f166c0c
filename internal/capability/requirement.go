package capability

import (
	"fmt"
	"strings"
	"sync"

	"github.com/anvil-platform/loadspace/internal/filter"
	"github.com/anvil-platform/loadspace/internal/semver"
)

// ImportType places a requirement's target before or after the unit's own
// content during a load.
type ImportType int

const (
	ImportBefore ImportType = iota
	ImportAfter
)

func (t ImportType) String() string {
	if t == ImportAfter {
		return "after"
	}
	return "before"
}

func ParseImportType(s string) (ImportType, error) {
	switch s {
	case "", "before":
		return ImportBefore, nil
	case "after":
		return ImportAfter, nil
	default:
		return 0, fmt.Errorf("capability: unknown import type %q", s)
	}
}

// Requirement is a demand on a capability.
type Requirement struct {
	Kind  Kind
	Name  string
	Range semver.Range
	// Optional requirements never block resolution.
	Optional bool
	// Dynamic requirements never block resolution and are bound whenever a
	// matching unit becomes available.
	Dynamic bool
	// ReExport exposes the target to units that depend on this unit with
	// WantReExports.
	ReExport bool
	// WantReExports follows the target's re-exported requirements.
	WantReExports bool
	Import        ImportType
}

// OnUnit requires a unit identity.
func OnUnit(name string, r semver.Range) Requirement {
	return Requirement{Kind: KindUnit, Name: name, Range: r}
}

// OnPackage requires a package. A name carrying '*' is a wildcard.
func OnPackage(name string, r semver.Range) Requirement {
	return Requirement{Kind: KindPackage, Name: name, Range: r}
}

// IsWildcard reports whether req matches a package-name pattern instead of a
// single package.
func (req Requirement) IsWildcard() bool {
	return req.Kind == KindPackage && filter.IsPattern(req.Name)
}

// patterns memoizes compiled wildcard names. Malformed names are stored as
// ok=false.
var patterns sync.Map // string -> compiled

type compiled struct {
	p  filter.Pattern
	ok bool
}

// Pattern returns the compiled form of a wildcard requirement's name. ok is
// false for a malformed pattern, which matches no package.
func (req Requirement) Pattern() (filter.Pattern, bool) {
	if v, found := patterns.Load(req.Name); found {
		c := v.(compiled)
		return c.p, c.ok
	}
	p, err := filter.CompilePattern(req.Name)
	c := compiled{p: p, ok: err == nil}
	patterns.Store(req.Name, c)
	return c.p, c.ok
}

// Validate rejects a package requirement whose pattern does not compile.
func (req Requirement) Validate() error {
	if !req.IsWildcard() {
		return nil
	}
	if _, err := filter.CompilePattern(req.Name); err != nil {
		return fmt.Errorf("capability: invalid package pattern %q: %w", req.Name, err)
	}
	return nil
}

// MatchesPackage reports whether pkg falls under a package requirement's name
// or pattern. Versions are not considered.
func (req Requirement) MatchesPackage(pkg string) bool {
	if req.Kind != KindPackage {
		return false
	}
	if req.IsWildcard() {
		p, ok := req.Pattern()
		return ok && p.Match(pkg)
	}
	return req.Name == pkg
}

// Blocking reports whether an unsatisfied req keeps its unit unresolved.
func (req Requirement) Blocking() bool {
	return !req.Optional && !req.Dynamic
}

// IsConsistent reports whether req and other can hold in the same space.
// Requirements of a different kind or name, and wildcards, never conflict.
func (req Requirement) IsConsistent(other Requirement) bool {
	if req.Kind != other.Kind || req.Name != other.Name {
		return true
	}
	if req.IsWildcard() || other.IsWildcard() {
		return true
	}
	return req.Range.IsConsistent(other.Range)
}

func (req Requirement) String() string {
	var flags []string
	if req.Optional {
		flags = append(flags, "optional")
	}
	if req.Dynamic {
		flags = append(flags, "dynamic")
	}
	if req.ReExport {
		flags = append(flags, "reexport")
	}
	s := fmt.Sprintf("%s %s%s", req.Kind, req.Name, req.Range)
	if len(flags) > 0 {
		s += " (" + strings.Join(flags, ",") + ")"
	}
	return s
}
