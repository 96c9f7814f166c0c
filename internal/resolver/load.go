package resolver

import (
	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/filter"
)

type query struct {
	key  string
	pkg  string
	path bool
}

func (q query) match(f filter.Filter) bool {
	if q.path {
		return f.MatchesResourcePath(q.key)
	}
	return f.MatchesName(q.key)
}

func (q query) cacheKey() string {
	if q.path {
		return "r:" + q.key
	}
	return "n:" + q.key
}

// Load resolves a dotted name as seen from u: parent-before, then the unit's
// imports and own content, then parent-after.
func (u *Unit) Load(name string) (Handle, error) {
	return u.lookup(query{key: name, pkg: filter.PackageOfName(name)})
}

// Resource resolves a resource path as seen from u.
func (u *Unit) Resource(path string) (Handle, error) {
	return u.lookup(query{key: path, pkg: filter.PackageOfPath(path), path: true})
}

// Resources returns every match for path visible to u, in search order.
func (u *Unit) Resources(path string) []Handle {
	if !u.Resolved() {
		return nil
	}
	q := query{key: path, pkg: filter.PackageOfPath(path), path: true}
	d := u.domain
	out := newCollector()
	if d.parent != nil && q.match(d.policy.Before) {
		d.parent.collect(q, out)
	}
	if u.importAll {
		for _, e := range d.localExporters(q.pkg) {
			out.addOwn(e, q)
		}
		out.add(u, q)
	} else {
		u.collectLocal(q, out, map[UnitID]bool{})
	}
	if d.parent != nil && q.match(d.policy.After) && !q.match(d.policy.Before) {
		d.parent.collect(q, out)
	}
	return out.handles
}

func (u *Unit) lookup(q query) (Handle, error) {
	switch u.State() {
	case StateUninstalled:
		return Handle{}, ErrUninstalled
	case StateUnresolved:
		return Handle{}, ErrNotResolved
	}
	reg := u.domain.reg
	gen := reg.generation.Load()
	if e, ok := u.cache.Get(q.cacheKey()); ok && e.gen == gen {
		reg.countLoad(e.found)
		if !e.found {
			return Handle{}, ErrNotFound
		}
		return e.h, nil
	}
	h, found := u.find(q)
	u.cache.Add(q.cacheKey(), cacheEntry{gen: gen, h: h, found: found})
	reg.countLoad(found)
	if !found {
		return Handle{}, ErrNotFound
	}
	return h, nil
}

func (u *Unit) find(q query) (Handle, bool) {
	d := u.domain
	if d.parent != nil && q.match(d.policy.Before) {
		if h, ok := d.parent.find(q); ok {
			return h, true
		}
	}
	if u.importAll {
		if h, ok := d.findLocal(q); ok {
			return h, true
		}
		if v, ok := u.provider.Find(q.key); ok {
			return Handle{Unit: u.name, Name: q.key, Value: v}, true
		}
	} else if h, ok := u.findLocal(q, map[UnitID]bool{}); ok {
		return h, true
	}
	if d.parent != nil && q.match(d.policy.After) {
		return d.parent.find(q)
	}
	return Handle{}, false
}

// findLocal searches before-imports, the unit's own content, then
// after-imports.
func (u *Unit) findLocal(q query, visited map[UnitID]bool) (Handle, bool) {
	visited[u.id] = true
	for _, it := range u.items {
		if it.req.Import != capability.ImportBefore {
			continue
		}
		if h, ok := it.find(q, visited); ok {
			return h, true
		}
	}
	if v, ok := u.provider.Find(q.key); ok {
		return Handle{Unit: u.name, Name: q.key, Value: v}, true
	}
	for _, it := range u.items {
		if it.req.Import != capability.ImportAfter {
			continue
		}
		if h, ok := it.find(q, visited); ok {
			return h, true
		}
	}
	return Handle{}, false
}

func (u *Unit) collectLocal(q query, out *collector, visited map[UnitID]bool) {
	visited[u.id] = true
	for _, it := range u.items {
		if it.req.Import == capability.ImportBefore {
			it.collect(q, out, visited)
		}
	}
	out.add(u, q)
	for _, it := range u.items {
		if it.req.Import == capability.ImportAfter {
			it.collect(q, out, visited)
		}
	}
}

// findOwn serves q from u's own content if u exports the package.
func (u *Unit) findOwn(q query) (Handle, bool) {
	if !u.exportsPackage(q.pkg) {
		return Handle{}, false
	}
	if v, ok := u.provider.Find(q.key); ok {
		return Handle{Unit: u.name, Name: q.key, Value: v}, true
	}
	return Handle{}, false
}

// visible reports whether the item exposes q.pkg of target t.
func (d *DependencyItem) visible(t *Unit, q query) bool {
	if d.req.Kind == capability.KindPackage && !d.req.MatchesPackage(q.pkg) {
		return false
	}
	return t.exportsPackage(q.pkg)
}

func (d *DependencyItem) find(q query, visited map[UnitID]bool) (Handle, bool) {
	if b := d.wildcard.Load(); b != nil {
		return b.find(q)
	}
	t := d.target.Load()
	if t == nil || visited[t.id] {
		return Handle{}, false
	}
	if d.visible(t, q) {
		if h, ok := t.findOwn(q); ok {
			return h, true
		}
	}
	if !d.req.WantReExports {
		return Handle{}, false
	}
	visited[t.id] = true
	for _, re := range t.items {
		if !re.req.ReExport {
			continue
		}
		if h, ok := re.find(q, visited); ok {
			return h, true
		}
	}
	return Handle{}, false
}

func (d *DependencyItem) collect(q query, out *collector, visited map[UnitID]bool) {
	if b := d.wildcard.Load(); b != nil {
		b.collect(q, out)
		return
	}
	t := d.target.Load()
	if t == nil || visited[t.id] {
		return
	}
	if d.visible(t, q) {
		out.add(t, q)
	}
	if !d.req.WantReExports {
		return
	}
	visited[t.id] = true
	for _, re := range t.items {
		if re.req.ReExport {
			re.collect(q, out, visited)
		}
	}
}

// collector gathers Resources results, taking each unit's content once.
type collector struct {
	handles []Handle
	seen    map[UnitID]bool
}

func newCollector() *collector { return &collector{seen: map[UnitID]bool{}} }

func (c *collector) add(u *Unit, q query) {
	if c.seen[u.id] {
		return
	}
	c.seen[u.id] = true
	for _, v := range u.provider.FindAll(q.key) {
		c.handles = append(c.handles, Handle{Unit: u.name, Name: q.key, Value: v})
	}
}

// addOwn adds u's content only if u exports the package.
func (c *collector) addOwn(u *Unit, q query) {
	if u.exportsPackage(q.pkg) {
		c.add(u, q)
	}
}
