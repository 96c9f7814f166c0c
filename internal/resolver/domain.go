package resolver

import (
	"sort"
	"sync"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/filter"
	"github.com/anvil-platform/loadspace/internal/policy"
	"github.com/anvil-platform/loadspace/internal/semver"
)

// Domain is a named, hierarchical registry of units. The parent link and
// policy never change.
type Domain struct {
	id     DomainID
	name   string
	policy policy.ParentPolicy
	parent *Domain
	reg    *Registry

	mu    sync.RWMutex
	units []*Unit
	// exporters maps a package to the resolved units exporting it, in install
	// order.
	exporters map[string][]*Unit

	// Guarded by the registry lock.
	listeners map[*WildcardBinding]struct{}
}

func newDomain(reg *Registry, id DomainID, name string, p policy.ParentPolicy, parent *Domain) *Domain {
	return &Domain{
		id:        id,
		name:      name,
		policy:    p,
		parent:    parent,
		reg:       reg,
		exporters: map[string][]*Unit{},
		listeners: map[*WildcardBinding]struct{}{},
	}
}

func (d *Domain) ID() DomainID { return d.id }
func (d *Domain) Name() string { return d.name }
func (d *Domain) Parent() *Domain { return d.parent }
func (d *Domain) Policy() policy.ParentPolicy { return d.policy }

// Units returns the domain's installed units in install order.
func (d *Domain) Units() []*Unit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Unit(nil), d.units...)
}

// chain returns d followed by its ancestors.
func (d *Domain) chain() []*Domain {
	var out []*Domain
	for cur := d; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// Providers returns the units that could satisfy req, ordered the way a
// requester in d should try them: parent-before, local, parent-after. Local
// candidates are ordered by descending version, then install order.
func (d *Domain) Providers(req capability.Requirement) []*Unit {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	return d.providers(req)
}

func (d *Domain) providers(req capability.Requirement) []*Unit {
	var out []*Unit
	before := d.parent != nil && d.policy.Before.MatchesPackage(req.Name)
	after := d.parent != nil && !before && d.policy.After.MatchesPackage(req.Name)
	if before {
		out = append(out, d.parent.providers(req)...)
	}
	out = append(out, d.localProviders(req)...)
	if after {
		out = append(out, d.parent.providers(req)...)
	}
	return out
}

func (d *Domain) localProviders(req capability.Requirement) []*Unit {
	d.mu.RLock()
	var local []*Unit
	for _, u := range d.units {
		if u.leaving || u.State() == StateUninstalled {
			continue
		}
		if u.satisfies(req) {
			local = append(local, u)
		}
	}
	d.mu.RUnlock()
	sort.SliceStable(local, func(i, j int) bool {
		if c := semver.Compare(local[i].bestVersion(req), local[j].bestVersion(req)); c != 0 {
			return c > 0
		}
		return local[i].seq < local[j].seq
	})
	return local
}

func (d *Domain) addExporter(u *Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pkg := range u.exports {
		d.exporters[pkg] = append(d.exporters[pkg], u)
	}
}

func (d *Domain) removeExporter(u *Unit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pkg := range u.exports {
		list := d.exporters[pkg]
		for i, e := range list {
			if e == u {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(d.exporters, pkg)
		} else {
			d.exporters[pkg] = list
		}
	}
}

func (d *Domain) localExporters(pkg string) []*Unit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Unit(nil), d.exporters[pkg]...)
}

// Load resolves a dotted name against the domain's exported content.
func (d *Domain) Load(name string) (Handle, error) {
	h, ok := d.find(query{key: name, pkg: filter.PackageOfName(name)})
	d.reg.countLoad(ok)
	if !ok {
		return Handle{}, ErrNotFound
	}
	return h, nil
}

// Resource resolves a resource path against the domain's exported content.
func (d *Domain) Resource(path string) (Handle, error) {
	h, ok := d.find(query{key: path, pkg: filter.PackageOfPath(path), path: true})
	d.reg.countLoad(ok)
	if !ok {
		return Handle{}, ErrNotFound
	}
	return h, nil
}

// Resources returns every exported match for a resource path.
func (d *Domain) Resources(path string) []Handle {
	out := newCollector()
	d.collect(query{key: path, pkg: filter.PackageOfPath(path), path: true}, out)
	return out.handles
}

func (d *Domain) find(q query) (Handle, bool) {
	if d.parent != nil && q.match(d.policy.Before) {
		if h, ok := d.parent.find(q); ok {
			return h, true
		}
	}
	if h, ok := d.findLocal(q); ok {
		return h, true
	}
	if d.parent != nil && q.match(d.policy.After) {
		return d.parent.find(q)
	}
	return Handle{}, false
}

func (d *Domain) findLocal(q query) (Handle, bool) {
	for _, u := range d.localExporters(q.pkg) {
		if h, ok := u.findOwn(q); ok {
			return h, true
		}
	}
	return Handle{}, false
}

func (d *Domain) collect(q query, out *collector) {
	if d.parent != nil && q.match(d.policy.Before) {
		d.parent.collect(q, out)
	}
	for _, u := range d.localExporters(q.pkg) {
		out.addOwn(u, q)
	}
	if d.parent != nil && q.match(d.policy.After) && !q.match(d.policy.Before) {
		d.parent.collect(q, out)
	}
}

// rankChain orders the domain chain starting at d. A parent-first level puts
// its ancestors ahead of itself.
func (d *Domain) rankChain() []*Domain {
	if d.parent == nil {
		return []*Domain{d}
	}
	up := d.parent.rankChain()
	if d.policy.ParentFirst() {
		return append(up, d)
	}
	return append([]*Domain{d}, up...)
}

func (d *Domain) snapshotListeners() []*WildcardBinding {
	out := make([]*WildcardBinding, 0, len(d.listeners))
	for b := range d.listeners {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].owner.seq < out[j].owner.seq })
	return out
}
