package resolver

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/filter"
)

// WildcardBinding serves a wildcard package requirement by searching a live
// list of matching units across the owner's domain chain. The list follows
// units as they resolve and unresolve; a unit that actually served a load is
// recorded as used so its departure can bounce the owner.
type WildcardBinding struct {
	reg   *Registry
	owner *Unit
	item  *DependencyItem
	req   capability.Requirement
	pat   filter.Pattern
	// ranks orders candidates by the domain they live in.
	ranks map[*Domain]int

	mu         sync.Mutex
	candidates atomic.Pointer[[]*Unit]
	gen        atomic.Uint64
	cache      sync.Map // cache key -> cachedMatch
	used       sync.Map // UnitID -> *Unit
	closed     atomic.Bool
}

type cachedMatch struct {
	gen  uint64
	unit *Unit
}

// openBinding registers a binding for a wildcard item with every domain in
// the owner's chain, then scans for existing matches. Registration comes
// first so no arrival is missed.
func (r *Registry) openBinding(it *DependencyItem) *WildcardBinding {
	u := it.owner
	chain := u.domain.rankChain()
	pat, _ := it.req.Pattern()
	b := &WildcardBinding{reg: r, owner: u, item: it, req: it.req, pat: pat, ranks: make(map[*Domain]int, len(chain))}
	empty := []*Unit{}
	b.candidates.Store(&empty)
	for i, d := range chain {
		b.ranks[d] = i
		d.listeners[b] = struct{}{}
	}
	for _, d := range chain {
		for _, c := range d.Units() {
			b.addModule(c)
		}
	}
	it.wildcard.Store(b)
	r.log.V(1).Info("wildcard bound", "unit", u.String(), "pattern", it.req.Name, "candidates", len(*b.candidates.Load()))
	return b
}

// hasWildcardMatch reports whether any active unit visible from u satisfies
// req.
func (r *Registry) hasWildcardMatch(u *Unit, req capability.Requirement) bool {
	for _, d := range u.domain.chain() {
		for _, c := range d.Units() {
			if c != u && c.active() && c.satisfies(req) {
				return true
			}
		}
	}
	return false
}

func (b *WildcardBinding) Owner() *Unit { return b.owner }

// Candidates returns the current search order.
func (b *WildcardBinding) Candidates() []*Unit {
	return append([]*Unit(nil), *b.candidates.Load()...)
}

// Used returns the units that have served a load, in install order.
func (b *WildcardBinding) Used() []*Unit {
	var out []*Unit
	b.used.Range(func(_, v any) bool {
		out = append(out, v.(*Unit))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (b *WildcardBinding) matches(c *Unit) bool {
	return c != b.owner && c.active() && c.satisfies(b.req)
}

// addModule inserts c after every candidate of equal or better rank.
func (b *WildcardBinding) addModule(c *Unit) {
	if b.closed.Load() || !b.matches(c) {
		return
	}
	rank, ok := b.ranks[c.domain]
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.candidates.Load()
	pos := len(cur)
	for i, e := range cur {
		if e == c {
			return
		}
		if b.ranks[e.domain] > rank && pos == len(cur) {
			pos = i
		}
	}
	next := make([]*Unit, 0, len(cur)+1)
	next = append(next, cur[:pos]...)
	next = append(next, c)
	next = append(next, cur[pos:]...)
	b.publish(next)
}

// removeModule drops c and reports whether c had served a load.
func (b *WildcardBinding) removeModule(c *Unit) bool {
	b.mu.Lock()
	cur := *b.candidates.Load()
	idx := -1
	for i, e := range cur {
		if e == c {
			idx = i
			break
		}
	}
	if idx >= 0 {
		next := make([]*Unit, 0, len(cur)-1)
		next = append(next, cur[:idx]...)
		next = append(next, cur[idx+1:]...)
		b.publish(next)
	}
	b.mu.Unlock()
	_, wasUsed := b.used.LoadAndDelete(c.id)
	return idx >= 0 && wasUsed
}

// publish stores the list before bumping the generation, so a cache entry
// tagged with the new generation always came from the new list.
func (b *WildcardBinding) publish(next []*Unit) {
	b.candidates.Store(&next)
	b.gen.Add(1)
}

func (b *WildcardBinding) close() {
	if b.closed.Swap(true) {
		return
	}
	for d := range b.ranks {
		delete(d.listeners, b)
	}
	b.mu.Lock()
	b.publish([]*Unit{})
	b.mu.Unlock()
	b.cache.Range(func(k, _ any) bool {
		b.cache.Delete(k)
		return true
	})
}

func (b *WildcardBinding) markUsed(c *Unit) {
	b.used.LoadOrStore(c.id, c)
}

func (b *WildcardBinding) find(q query) (Handle, bool) {
	if !b.pat.Match(q.pkg) {
		return Handle{}, false
	}
	gen := b.gen.Load()
	key := q.cacheKey()
	if v, ok := b.cache.Load(key); ok {
		if m := v.(cachedMatch); m.gen == gen {
			if h, ok := m.unit.findOwn(q); ok {
				b.markUsed(m.unit)
				return h, true
			}
		}
	}
	for _, c := range *b.candidates.Load() {
		if h, ok := c.findOwn(q); ok {
			b.cache.Store(key, cachedMatch{gen: gen, unit: c})
			b.markUsed(c)
			return h, true
		}
	}
	return Handle{}, false
}

func (b *WildcardBinding) collect(q query, out *collector) {
	if !b.pat.Match(q.pkg) {
		return
	}
	for _, c := range *b.candidates.Load() {
		n := len(out.handles)
		out.addOwn(c, q)
		if len(out.handles) > n {
			b.markUsed(c)
		}
	}
}
