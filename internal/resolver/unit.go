package resolver

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/semver"
)

// Unit is an installed unit. Identity, capabilities, requirements and the
// provider never change after install.
type Unit struct {
	id       UnitID
	name     string
	version  semver.Version
	domain   *Domain
	caps     []capability.Capability
	items    []*DependencyItem
	exports  sets.Set[string]
	provider Provider
	shutdown ShutdownPolicy

	importAll bool
	listener  LifecycleListener
	object    runtime.Object
	seq       int

	state        atomic.Int32
	needsRefresh atomic.Bool
	failure      atomic.Pointer[failure]
	cache        *lru.Cache[string, cacheEntry]

	// Guarded by the registry lock.
	space      SpaceID
	leaving    bool
	restart    bool
	dependents map[*DependencyItem]struct{}
}

type failure struct{ err error }

type cacheEntry struct {
	gen   uint64
	h     Handle
	found bool
}

// DependencyItem binds one requirement of its owner to a target unit.
type DependencyItem struct {
	owner  *Unit
	req    capability.Requirement
	target atomic.Pointer[Unit]
	// Set for wildcard requirements while the owner is resolved.
	wildcard atomic.Pointer[WildcardBinding]
}

func (d *DependencyItem) Owner() *Unit { return d.owner }
func (d *DependencyItem) Requirement() capability.Requirement { return d.req }

// Target returns the bound unit, or nil.
func (d *DependencyItem) Target() *Unit { return d.target.Load() }

// Wildcard returns the live binding of a wildcard requirement, or nil.
func (d *DependencyItem) Wildcard() *WildcardBinding { return d.wildcard.Load() }

// Resolved reports whether the item is bound.
func (d *DependencyItem) Resolved() bool {
	if d.req.IsWildcard() {
		return d.wildcard.Load() != nil
	}
	return d.target.Load() != nil
}

// indexed reports whether the item takes part in space consistency checks.
func (d *DependencyItem) indexed() bool { return !d.req.IsWildcard() }

func (u *Unit) ID() UnitID { return u.id }
func (u *Unit) Name() string { return u.name }
func (u *Unit) Version() semver.Version { return u.version }
func (u *Unit) Domain() *Domain { return u.domain }
func (u *Unit) Capabilities() []capability.Capability { return append([]capability.Capability(nil), u.caps...) }
func (u *Unit) Items() []*DependencyItem { return append([]*DependencyItem(nil), u.items...) }
func (u *Unit) Shutdown() ShutdownPolicy { return u.shutdown }
func (u *Unit) Object() runtime.Object { return u.object }
func (u *Unit) State() State { return State(u.state.Load()) }

// NeedsRefresh reports whether the unit still uses a departed provider.
func (u *Unit) NeedsRefresh() bool { return u.needsRefresh.Load() }

// Err returns the last resolution failure, or nil.
func (u *Unit) Err() error {
	if f := u.failure.Load(); f != nil {
		return f.err
	}
	return nil
}

// Resolved reports whether the unit is resolved or started.
func (u *Unit) Resolved() bool {
	s := u.State()
	return s == StateResolved || s == StateStarted
}

func (u *Unit) String() string { return u.name + "@" + u.version.String() }

func (u *Unit) setState(s State) { u.state.Store(int32(s)) }

func (u *Unit) setFailure(err error) {
	if err == nil {
		u.failure.Store(nil)
		return
	}
	u.failure.Store(&failure{err: err})
}

// active reports whether u may serve as a provider. Requires the registry lock
// for the leaving flag to be current.
func (u *Unit) active() bool { return u.Resolved() && !u.leaving }

// exportsPackage reports whether u exports pkg, including optional exports.
func (u *Unit) exportsPackage(pkg string) bool { return u.exports.Has(pkg) }

// indexedExports lists the package capabilities that occupy a space slot.
func (u *Unit) indexedExports() []capability.Capability {
	var out []capability.Capability
	seen := sets.New[string]()
	for _, c := range u.caps {
		if c.Kind != capability.KindPackage || c.Optional || seen.Has(c.Name) {
			continue
		}
		seen.Insert(c.Name)
		out = append(out, c)
	}
	return out
}

func (u *Unit) indexedItems() []*DependencyItem {
	var out []*DependencyItem
	for _, it := range u.items {
		if it.indexed() {
			out = append(out, it)
		}
	}
	return out
}

// satisfies reports whether one of u's capabilities resolves req.
func (u *Unit) satisfies(req capability.Requirement) bool {
	for _, c := range u.caps {
		if c.Resolves(req) {
			return true
		}
	}
	return false
}

// bestVersion returns the highest version among u's capabilities resolving req.
func (u *Unit) bestVersion(req capability.Requirement) semver.Version {
	var best semver.Version
	found := false
	for _, c := range u.caps {
		if !c.Resolves(req) {
			continue
		}
		if !found || semver.Compare(c.Version, best) > 0 {
			best, found = c.Version, true
		}
	}
	return best
}

func newUnit(id UnitID, seq int, d *Domain, spec UnitSpec, cacheSize int) (*Unit, error) {
	for _, req := range spec.Requirements {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	u := &Unit{
		id:         id,
		seq:        seq,
		name:       spec.Name,
		version:    spec.Version,
		domain:     d,
		provider:   spec.Provider,
		shutdown:   spec.Shutdown,
		importAll:  spec.ImportAll,
		listener:   spec.Listener,
		object:     spec.Object,
		exports:    sets.New[string](),
		dependents: map[*DependencyItem]struct{}{},
	}
	if u.provider == nil {
		u.provider = MapProvider{}
	}
	hasIdentity := false
	for _, c := range spec.Capabilities {
		if c.Kind == capability.KindUnit && c.Name == spec.Name {
			hasIdentity = true
		}
		if c.Kind == capability.KindPackage {
			u.exports.Insert(c.Name)
		}
		u.caps = append(u.caps, c)
	}
	if !hasIdentity {
		u.caps = append([]capability.Capability{capability.Unit(spec.Name, spec.Version)}, u.caps...)
	}
	for _, req := range spec.Requirements {
		u.items = append(u.items, &DependencyItem{owner: u, req: req})
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	u.cache = cache
	return u, nil
}
