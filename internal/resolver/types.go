package resolver

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/semver"
)

type (
	DomainID int
	UnitID   int
	SpaceID  int
)

// State is a unit's position in its lifecycle.
type State int32

const (
	StateUnresolved State = iota
	StateResolved
	StateStarted
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "Unresolved"
	case StateResolved:
		return "Resolved"
	case StateStarted:
		return "Started"
	case StateUninstalled:
		return "Uninstalled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ShutdownPolicy decides what happens to dependents when a unit departs.
type ShutdownPolicy int

const (
	// ShutdownCascade unresolves dependents so they rebind elsewhere.
	ShutdownCascade ShutdownPolicy = iota
	// ShutdownNonCascade leaves dependents bound to the departed unit and
	// flags them for refresh.
	ShutdownNonCascade
)

func (p ShutdownPolicy) String() string {
	if p == ShutdownNonCascade {
		return "non-cascade"
	}
	return "cascade"
}

func ParseShutdownPolicy(s string) (ShutdownPolicy, error) {
	switch s {
	case "", "cascade":
		return ShutdownCascade, nil
	case "non-cascade", "noncascade":
		return ShutdownNonCascade, nil
	default:
		return 0, fmt.Errorf("resolver: unknown shutdown policy %q", s)
	}
}

// Provider serves a unit's own content. Names are either dotted names or
// slash-separated resource paths.
type Provider interface {
	Find(name string) (any, bool)
	FindAll(name string) []any
}

// Handle is a successful lookup result.
type Handle struct {
	Unit  string
	Name  string
	Value any
}

// UnitSpec describes a unit to install.
type UnitSpec struct {
	Name    string
	Version semver.Version
	// Capabilities lists what the unit provides. A unit identity capability
	// named after the unit is added when none is declared.
	Capabilities []capability.Capability
	Requirements []capability.Requirement
	Provider     Provider
	Shutdown     ShutdownPolicy
	// ImportAll makes every exporter in the domain visible to the unit.
	ImportAll bool
	// Listener receives lifecycle transitions. Optional.
	Listener LifecycleListener
	// Object is the event target for this unit. Optional.
	Object runtime.Object
}

// LifecycleListener observes unit transitions. Calls happen while the
// registry is locked and must not call back into it.
type LifecycleListener interface {
	UnitResolved(u *Unit)
	UnitUnresolved(u *Unit)
	UnitStarted(u *Unit)
	UnitStopped(u *Unit)
}

// Diagnostics captures human-readable information about resolution.
type Diagnostics struct {
	UnresolvedRequired []UnresolvedRequirement
	UnresolvedOptional []UnresolvedRequirement
	NeedsRefresh       []string
}

type UnresolvedRequirement struct {
	Unit        string
	Domain      string
	Requirement string
	Reason      string
}
