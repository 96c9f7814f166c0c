// Package capability models what units provide and what they need.
package capability

import (
	"fmt"

	"github.com/anvil-platform/loadspace/internal/semver"
)

// Kind distinguishes unit identities from packages.
type Kind int

const (
	KindUnit Kind = iota
	KindPackage
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindPackage:
		return "package"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "unit" or "package".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "unit", "module":
		return KindUnit, nil
	case "package", "":
		return KindPackage, nil
	default:
		return 0, fmt.Errorf("capability: unknown kind %q", s)
	}
}

// SplitPolicy decides the outcome when a second unit in one space exports a
// package that is already exported there. It is taken from the newcomer.
type SplitPolicy int

const (
	// SplitError rejects the newcomer.
	SplitError SplitPolicy = iota
	// SplitFirst keeps the incumbent as owner.
	SplitFirst
	// SplitLast makes the newcomer the owner.
	SplitLast
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitError:
		return "error"
	case SplitFirst:
		return "first"
	case SplitLast:
		return "last"
	default:
		return fmt.Sprintf("split(%d)", int(p))
	}
}

func ParseSplitPolicy(s string) (SplitPolicy, error) {
	switch s {
	case "", "error":
		return SplitError, nil
	case "first":
		return SplitFirst, nil
	case "last":
		return SplitLast, nil
	default:
		return 0, fmt.Errorf("capability: unknown split policy %q", s)
	}
}

// Capability is a named, versioned thing a unit provides.
type Capability struct {
	Kind    Kind
	Name    string
	Version semver.Version
	// Split applies to package capabilities only.
	Split SplitPolicy
	// Optional package exports are visible to loads but never indexed in a
	// space.
	Optional bool
}

// Unit returns a unit identity capability.
func Unit(name string, v semver.Version) Capability {
	return Capability{Kind: KindUnit, Name: name, Version: v}
}

// Package returns a package capability with the default split policy.
func Package(name string, v semver.Version) Capability {
	return Capability{Kind: KindPackage, Name: name, Version: v}
}

// Resolves reports whether c satisfies req.
func (c Capability) Resolves(req Requirement) bool {
	if c.Kind != req.Kind {
		return false
	}
	if req.IsWildcard() {
		if p, ok := req.Pattern(); !ok || !p.Match(c.Name) {
			return false
		}
	} else if c.Name != req.Name {
		return false
	}
	return req.Range.IsInRange(c.Version)
}

func (c Capability) String() string {
	return fmt.Sprintf("%s %s@%s", c.Kind, c.Name, c.Version)
}
