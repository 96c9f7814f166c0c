package resolver

import (
	"sort"
	"sync"

	"github.com/anvil-platform/loadspace/internal/capability"
)

// Space is a set of units whose exports and requirements are mutually
// consistent: each package has at most one owner, and no two requirements in
// the space disagree on version.
type Space struct {
	id  SpaceID
	reg *Registry

	mu       sync.RWMutex
	units    map[UnitID]*Unit
	order    []*Unit
	packages map[string]*Unit
	shadowed map[string][]*Unit
	reqs     map[UnitID][]*DependencyItem
}

func newSpace(reg *Registry, id SpaceID) *Space {
	return &Space{
		id:       id,
		reg:      reg,
		units:    map[UnitID]*Unit{},
		packages: map[string]*Unit{},
		shadowed: map[string][]*Unit{},
		reqs:     map[UnitID][]*DependencyItem{},
	}
}

func (s *Space) ID() SpaceID { return s.id }

// Units returns the members in join order.
func (s *Space) Units() []*Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Unit(nil), s.order...)
}

func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// Exporter returns the unit owning pkg in this space.
func (s *Space) Exporter(pkg string) (*Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.packages[pkg]
	return u, ok
}

// Join adds u to the space without resolving it. u leaves its previous space.
// On failure the space is unchanged.
func (s *Space) Join(u *Unit) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	tx := s.reg.newTxn(s)
	if err := tx.admit(u); err != nil {
		s.reg.countConflict(u, err)
		return err
	}
	return s.reg.commit(tx, s)
}

// JoinAndResolve adds u to the space and resolves it, pulling in whatever
// providers it needs. On failure nothing changes.
func (s *Space) JoinAndResolve(u *Unit) error {
	return s.JoinAndResolveAll([]*Unit{u})
}

// JoinAndResolveAll adds and resolves every unit as one transaction.
func (s *Space) JoinAndResolveAll(units []*Unit) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	tx := s.reg.newTxn(s)
	for _, u := range units {
		if err := tx.admit(u); err != nil {
			s.reg.countConflict(u, err)
			return err
		}
	}
	for _, u := range units {
		if err := tx.resolveUnit(u); err != nil {
			return err
		}
	}
	if err := s.reg.commit(tx, s); err != nil {
		return err
	}
	s.reg.resolvePass()
	return nil
}

// Resolve binds the unresolved items of a member.
func (s *Space) Resolve(u *Unit) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if u.space != s.id {
		return ErrNotFound
	}
	tx := s.reg.newTxn(s)
	if err := tx.resolveUnit(u); err != nil {
		return err
	}
	return s.reg.commit(tx, s)
}

// Split removes u from the space, handing each of its packages to a shadowed
// exporter if one exists.
func (s *Space) Split(u *Unit) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if u.space != s.id {
		return ErrNotFound
	}
	return s.reg.split(u)
}

// validateSplit checks that the package index agrees with u's membership.
func (s *Space) validateSplit(u *Unit) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range u.indexedExports() {
		owner := s.packages[c.Name]
		if owner == u || containsUnit(s.shadowed[c.Name], u) {
			continue
		}
		actual := "<none>"
		if owner != nil {
			actual = owner.name
		}
		return &InvariantViolationError{Space: s.id, Package: c.Name, Expected: u.name, Actual: actual}
	}
	return nil
}

func (s *Space) remove(u *Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range u.indexedExports() {
		if s.packages[c.Name] == u {
			delete(s.packages, c.Name)
			if sh := s.shadowed[c.Name]; len(sh) > 0 {
				s.packages[c.Name] = sh[0]
				sh = sh[1:]
				if len(sh) == 0 {
					delete(s.shadowed, c.Name)
				} else {
					s.shadowed[c.Name] = sh
				}
			}
			continue
		}
		sh := removeUnit(s.shadowed[c.Name], u)
		if len(sh) == 0 {
			delete(s.shadowed, c.Name)
		} else {
			s.shadowed[c.Name] = sh
		}
	}
	delete(s.reqs, u.id)
	delete(s.units, u.id)
	s.order = removeUnit(s.order, u)
}

// install replaces the indices with those computed by tx.
func (s *Space) install(tx *txn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = make(map[UnitID]*Unit, len(tx.members))
	s.reqs = make(map[UnitID][]*DependencyItem, len(tx.members))
	for _, u := range tx.order {
		s.units[u.id] = u
		if items := u.indexedItems(); len(items) > 0 {
			s.reqs[u.id] = items
		}
	}
	s.order = append([]*Unit(nil), tx.order...)
	s.packages = make(map[string]*Unit, len(tx.packages))
	for k, v := range tx.packages {
		s.packages[k] = v
	}
	s.shadowed = make(map[string][]*Unit, len(tx.shadowed))
	for k, v := range tx.shadowed {
		s.shadowed[k] = append([]*Unit(nil), v...)
	}
}

// txn is a proposed space. Every change is made to a txn first; the live
// space is only touched by commit once the whole proposal is valid.
type txn struct {
	reg  *Registry
	seed *Space

	members  map[UnitID]*Unit
	order    []*Unit
	packages map[string]*Unit
	shadowed map[string][]*Unit
	reqs     []*DependencyItem

	// origin records the space each admitted unit came from.
	origin map[UnitID]SpaceID
	// absorbed lists spaces whose members are all in the txn.
	absorbed map[SpaceID]bool
	bindings map[*DependencyItem]*Unit
	// resolving marks units resolved or being resolved by this txn.
	resolving map[UnitID]bool
	resolved  []*Unit
}

func (r *Registry) newTxn(seed *Space) *txn {
	tx := &txn{
		reg:       r,
		seed:      seed,
		members:   map[UnitID]*Unit{},
		packages:  map[string]*Unit{},
		shadowed:  map[string][]*Unit{},
		origin:    map[UnitID]SpaceID{},
		absorbed:  map[SpaceID]bool{},
		bindings:  map[*DependencyItem]*Unit{},
		resolving: map[UnitID]bool{},
	}
	if seed == nil {
		return tx
	}
	seed.mu.RLock()
	defer seed.mu.RUnlock()
	tx.absorbed[seed.id] = true
	tx.order = append(tx.order, seed.order...)
	for _, u := range seed.order {
		tx.members[u.id] = u
		tx.origin[u.id] = seed.id
		tx.reqs = append(tx.reqs, seed.reqs[u.id]...)
	}
	for k, v := range seed.packages {
		tx.packages[k] = v
	}
	for k, v := range seed.shadowed {
		tx.shadowed[k] = append([]*Unit(nil), v...)
	}
	return tx
}

func (tx *txn) clone() *txn {
	c := *tx
	c.members = make(map[UnitID]*Unit, len(tx.members))
	for k, v := range tx.members {
		c.members[k] = v
	}
	c.order = append([]*Unit(nil), tx.order...)
	c.packages = make(map[string]*Unit, len(tx.packages))
	for k, v := range tx.packages {
		c.packages[k] = v
	}
	c.shadowed = make(map[string][]*Unit, len(tx.shadowed))
	for k, v := range tx.shadowed {
		c.shadowed[k] = append([]*Unit(nil), v...)
	}
	c.reqs = append([]*DependencyItem(nil), tx.reqs...)
	c.origin = make(map[UnitID]SpaceID, len(tx.origin))
	for k, v := range tx.origin {
		c.origin[k] = v
	}
	c.absorbed = make(map[SpaceID]bool, len(tx.absorbed))
	for k, v := range tx.absorbed {
		c.absorbed[k] = v
	}
	c.bindings = make(map[*DependencyItem]*Unit, len(tx.bindings))
	for k, v := range tx.bindings {
		c.bindings[k] = v
	}
	c.resolving = make(map[UnitID]bool, len(tx.resolving))
	for k, v := range tx.resolving {
		c.resolving[k] = v
	}
	c.resolved = append([]*Unit(nil), tx.resolved...)
	return &c
}

// admit adds u to the proposal. Exports are checked against the package index
// using u's split policy, and u's requirements against every requirement
// already present. Nothing changes unless every check passes.
func (tx *txn) admit(u *Unit) error {
	if _, ok := tx.members[u.id]; ok {
		return nil
	}
	if u.State() == StateUninstalled {
		return ErrUninstalled
	}
	for _, c := range u.indexedExports() {
		inc, ok := tx.packages[c.Name]
		if ok && inc != u && c.Split == capability.SplitError {
			return &ConflictError{Unit: u.name, Conflicting: inc.name, Package: c.Name}
		}
	}
	items := u.indexedItems()
	for _, it := range items {
		for _, other := range tx.reqs {
			if !it.req.IsConsistent(other.req) {
				return &InconsistencyError{Unit: u.name, Conflicting: other.owner.name, Requirement: it.req, Other: other.req}
			}
		}
	}

	for _, c := range u.indexedExports() {
		inc, ok := tx.packages[c.Name]
		switch {
		case !ok || inc == u:
			tx.packages[c.Name] = u
		case c.Split == capability.SplitFirst:
			tx.shadowed[c.Name] = append(tx.shadowed[c.Name], u)
		default:
			tx.shadowed[c.Name] = append(tx.shadowed[c.Name], inc)
			tx.packages[c.Name] = u
		}
	}
	tx.reqs = append(tx.reqs, items...)
	tx.members[u.id] = u
	tx.order = append(tx.order, u)
	tx.origin[u.id] = u.space
	return nil
}

// absorb admits every member of sp.
func (tx *txn) absorb(sp *Space) error {
	if tx.absorbed[sp.id] {
		return nil
	}
	for _, m := range sp.Units() {
		if err := tx.admit(m); err != nil {
			return err
		}
		if m.Resolved() {
			tx.resolving[m.id] = true
		}
	}
	tx.absorbed[sp.id] = true
	return nil
}

// resolveUnit binds every unbound item of a member. Targets are pulled into
// the proposal and resolved recursively.
func (tx *txn) resolveUnit(u *Unit) error {
	if tx.resolving[u.id] {
		return nil
	}
	if _, ok := tx.members[u.id]; !ok {
		if err := tx.admit(u); err != nil {
			return err
		}
	}
	tx.resolving[u.id] = true
	fresh := !u.Resolved()
	for _, it := range u.items {
		if !fresh && it.Resolved() {
			continue
		}
		if _, ok := tx.bindings[it]; ok {
			continue
		}
		if it.req.IsWildcard() {
			if fresh && it.req.Blocking() && !tx.reg.hasWildcardMatch(u, it.req) {
				return &UnresolvedRequirementError{Unit: u.name, Requirement: it.req}
			}
			continue
		}
		target, err := tx.bind(u, it)
		if target == nil {
			if it.req.Blocking() && fresh {
				return &UnresolvedRequirementError{Unit: u.name, Requirement: it.req, Cause: err}
			}
			continue
		}
		tx.bindings[it] = target
	}
	if fresh {
		tx.resolved = append(tx.resolved, u)
	}
	return nil
}

// bind picks the first candidate for it that the proposal can accommodate.
// Each attempt runs on a copy so a rejected candidate leaves no trace.
func (tx *txn) bind(u *Unit, it *DependencyItem) (*Unit, error) {
	cands := tx.preferOwner(u.domain.providers(it.req), it.req)
	var lastErr error
	for _, c := range cands {
		if c.leaving {
			continue
		}
		trial := tx.clone()
		if err := trial.pull(c); err != nil {
			lastErr = err
			tx.reg.countConflict(c, err)
			continue
		}
		target, err := trial.exporterFor(c, it.req, cands)
		if err != nil {
			lastErr = err
			tx.reg.countConflict(c, err)
			continue
		}
		*tx = *trial
		return target, nil
	}
	return nil, lastErr
}

// exporterFor returns the unit that serves req once c has joined the
// proposal. Joining c's space can reveal that c is shadowed for the package,
// in which case the owner serves it if it is an acceptable candidate.
func (tx *txn) exporterFor(c *Unit, req capability.Requirement, cands []*Unit) (*Unit, error) {
	if req.Kind != capability.KindPackage {
		return c, nil
	}
	owner, ok := tx.packages[req.Name]
	if !ok || owner == c {
		return c, nil
	}
	if owner.leaving || !containsUnit(cands, owner) || !owner.satisfies(req) {
		return nil, &ConflictError{Unit: c.name, Conflicting: owner.name, Package: req.Name}
	}
	if err := tx.pull(owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// preferOwner moves the proposal's current owner of a package to the
// front so requesters in one space agree on the exporter.
func (tx *txn) preferOwner(cands []*Unit, req capability.Requirement) []*Unit {
	if req.Kind != capability.KindPackage {
		return cands
	}
	owner, ok := tx.packages[req.Name]
	if !ok {
		return cands
	}
	out := make([]*Unit, 0, len(cands))
	for _, c := range cands {
		if c == owner {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return cands
	}
	for _, c := range cands {
		if c != owner {
			out = append(out, c)
		}
	}
	return out
}

// pull makes c a resolved member of the proposal.
func (tx *txn) pull(c *Unit) error {
	if _, ok := tx.members[c.id]; ok {
		if tx.resolving[c.id] || c.Resolved() {
			return nil
		}
		return tx.resolveUnit(c)
	}
	if c.active() && c.space != 0 {
		sp, ok := tx.reg.spaces[c.space]
		if !ok {
			return &InvariantViolationError{Space: c.space, Expected: c.name, Actual: "<missing space>"}
		}
		return tx.absorb(sp)
	}
	if c.space != 0 {
		if sp, ok := tx.reg.spaces[c.space]; ok {
			if err := tx.absorb(sp); err != nil {
				return err
			}
		}
	}
	if err := tx.admit(c); err != nil {
		return err
	}
	return tx.resolveUnit(c)
}

func containsUnit(list []*Unit, u *Unit) bool {
	for _, e := range list {
		if e == u {
			return true
		}
	}
	return false
}

func removeUnit(list []*Unit, u *Unit) []*Unit {
	for i, e := range list {
		if e == u {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func sortedSpaceIDs(m map[SpaceID]bool) []SpaceID {
	out := make([]SpaceID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
