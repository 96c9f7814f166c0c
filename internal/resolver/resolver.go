package resolver

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/loadspace/internal/filter"
	"github.com/anvil-platform/loadspace/internal/policy"
)

// DefaultDomainName names the root domain every registry starts with.
const DefaultDomainName = "default"

const defaultLookupCacheSize = 512

// DefaultReserved is the reserved namespace used when Options.Reserved is
// unset.
func DefaultReserved() filter.Filter { return filter.Recursive("system") }

// Resolver is the unit lifecycle surface.
type Resolver interface {
	Install(spec UnitSpec, domain DomainID) (*Unit, error)
	Uninstall(u *Unit) error
	Resolve(u *Unit) error
	Refresh(units ...*Unit) error
	Start(u *Unit) error
	Stop(u *Unit) error
	Diagnostics() Diagnostics
}

var _ Resolver = (*Registry)(nil)

type Options struct {
	// Logger defaults to the controller-runtime root logger.
	Logger logr.Logger
	// Recorder receives unit events. Optional.
	Recorder record.EventRecorder
	// Registerer defaults to the controller-runtime metrics registry.
	Registerer prometheus.Registerer
	// Reserved is the namespace the reserved-aware parent policies treat
	// specially. Defaults to everything under "system".
	Reserved *filter.Filter
	// LookupCacheSize bounds each unit's lookup cache.
	LookupCacheSize int
	// DefaultPolicy applies to the default domain.
	DefaultPolicy *policy.ParentPolicy
}

// Registry owns every domain, unit and space. Structural changes are
// serialized by one lock; loads run concurrently against atomically
// published bindings.
type Registry struct {
	mu sync.Mutex

	log      logr.Logger
	recorder record.EventRecorder
	metrics  *registryMetrics
	reserved filter.Filter
	cacheSz  int

	domains       []*Domain
	domainsByName map[string]*Domain
	units         map[UnitID]*Unit
	unitsByName   map[string]*Unit
	order         []*Unit
	spaces        map[SpaceID]*Space
	nextUnit      UnitID
	nextSpace     SpaceID
	seq           int

	// generation changes whenever a binding changes; lookup cache entries
	// from an older generation are ignored.
	generation atomic.Uint64
}

func NewRegistry(opts Options) *Registry {
	r := &Registry{
		log:           opts.Logger,
		recorder:      opts.Recorder,
		metrics:       newRegistryMetrics(opts.Registerer),
		reserved:      DefaultReserved(),
		cacheSz:       opts.LookupCacheSize,
		domainsByName: map[string]*Domain{},
		units:         map[UnitID]*Unit{},
		unitsByName:   map[string]*Unit{},
		spaces:        map[SpaceID]*Space{},
	}
	if r.log.GetSink() == nil {
		r.log = log.Log.WithName("loadspace")
	}
	if opts.Reserved != nil {
		r.reserved = *opts.Reserved
	}
	if r.cacheSz <= 0 {
		r.cacheSz = defaultLookupCacheSize
	}
	p := policy.Before()
	if opts.DefaultPolicy != nil {
		p = *opts.DefaultPolicy
	}
	root := newDomain(r, 0, DefaultDomainName, p, nil)
	r.domains = append(r.domains, root)
	r.domainsByName[root.name] = root
	return r
}

// Reserved returns the reserved namespace filter.
func (r *Registry) Reserved() filter.Filter { return r.reserved }

func (r *Registry) Logger() logr.Logger { return r.log }

func (r *Registry) DefaultDomain() DomainID { return 0 }

// CreateDomain adds a child domain under parent.
func (r *Registry) CreateDomain(name string, p policy.ParentPolicy, parent DomainID) (DomainID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domainsByName[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrDomainExists, name)
	}
	par, err := r.domainLocked(parent)
	if err != nil {
		return 0, err
	}
	id := DomainID(len(r.domains))
	d := newDomain(r, id, name, p, par)
	r.domains = append(r.domains, d)
	r.domainsByName[name] = d
	r.log.V(1).Info("domain created", "domain", name, "parent", par.name, "policy", p.Name)
	return id, nil
}

// Domain returns the domain with the given id.
func (r *Registry) Domain(id DomainID) (*Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.domainLocked(id)
}

// DomainByName returns the named domain.
func (r *Registry) DomainByName(name string) (*Domain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domainsByName[name]
	return d, ok
}

func (r *Registry) domainLocked(id DomainID) (*Domain, error) {
	if id < 0 || int(id) >= len(r.domains) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, id)
	}
	return r.domains[id], nil
}

// Unit returns the installed unit with the given name.
func (r *Registry) Unit(name string) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.unitsByName[name]
	return u, ok
}

// Units returns installed units in install order.
func (r *Registry) Units() []*Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Unit(nil), r.order...)
}

// SpaceOf returns the space u belongs to, if any.
func (r *Registry) SpaceOf(u *Unit) (*Space, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.spaces[u.space]
	return sp, ok
}

// NewSpace creates an empty space.
func (r *Registry) NewSpace() *Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newSpaceLocked()
}

// Spaces returns the live spaces ordered by id.
func (r *Registry) Spaces() []*Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Space, 0, len(r.spaces))
	for _, sp := range r.spaces {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) newSpaceLocked() *Space {
	r.nextSpace++
	sp := newSpace(r, r.nextSpace)
	r.spaces[sp.id] = sp
	return sp
}

// Install adds a unit to a domain and attempts to resolve it along with any
// unit waiting on it. The returned error covers installation only; the
// resolution outcome is reported by the unit's State and Err.
func (r *Registry) Install(spec UnitSpec, domain DomainID) (*Unit, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSpec)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.domainLocked(domain)
	if err != nil {
		return nil, err
	}
	if _, ok := r.unitsByName[spec.Name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrUnitExists, spec.Name)
	}
	r.nextUnit++
	r.seq++
	u, err := newUnit(r.nextUnit, r.seq, d, spec, r.cacheSz)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.units = append(d.units, u)
	d.mu.Unlock()
	r.units[u.id] = u
	r.unitsByName[u.name] = u
	r.order = append(r.order, u)
	r.log.Info("unit installed", "unit", u.String(), "domain", d.name)

	r.resolvePass()
	return u, nil
}

// Uninstall removes u. Dependents follow u's shutdown policy.
func (r *Registry) Uninstall(u *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.State() == StateUninstalled {
		return ErrUninstalled
	}
	u.leaving = true
	if u.Resolved() {
		r.unresolveLocked(u)
	} else if u.space != 0 {
		if err := r.split(u); err != nil {
			r.log.Error(err, "split on uninstall", "unit", u.String())
		}
	}
	u.setState(StateUninstalled)

	d := u.domain
	d.mu.Lock()
	d.units = removeUnit(d.units, u)
	d.mu.Unlock()
	delete(r.units, u.id)
	delete(r.unitsByName, u.name)
	r.order = removeUnit(r.order, u)
	u.cache.Purge()
	r.generation.Add(1)
	r.log.Info("unit uninstalled", "unit", u.String(), "domain", d.name)

	r.resolvePass()
	return nil
}

// Resolve resolves u, or binds its late optional and dynamic requirements if
// it is already resolved.
func (r *Registry) Resolve(u *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case u.State() == StateUninstalled:
		return ErrUninstalled
	case u.Resolved():
		if err := r.bindLate(u); err != nil {
			return err
		}
	default:
		if err := r.resolveLocked(u); err != nil {
			return err
		}
	}
	r.resolvePass()
	return nil
}

// Refresh bounces the given units, or every unit flagged as needing refresh
// when none are given.
func (r *Registry) Refresh(units ...*Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(units) == 0 {
		for _, u := range r.order {
			if u.NeedsRefresh() {
				units = append(units, u)
			}
		}
	}
	var errs []error
	for _, u := range units {
		if u.leaving || u.State() == StateUninstalled {
			continue
		}
		u.needsRefresh.Store(false)
		var err error
		if u.Resolved() {
			err = r.bounceLocked(u)
		} else {
			err = r.resolveLocked(u)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	r.resolvePass()
	return utilerrors.NewAggregate(errs)
}

// Start marks a resolved unit as started.
func (r *Registry) Start(u *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch u.State() {
	case StateStarted:
		return nil
	case StateResolved:
		r.startLocked(u)
		return nil
	case StateUninstalled:
		return ErrUninstalled
	default:
		return ErrNotResolved
	}
}

// Stop returns a started unit to resolved.
func (r *Registry) Stop(u *Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch u.State() {
	case StateStarted:
		r.stopLocked(u)
		return nil
	case StateUninstalled:
		return ErrUninstalled
	default:
		return nil
	}
}

// Shutdown uninstalls every unit, newest first.
func (r *Registry) Shutdown() error {
	var errs []error
	units := r.Units()
	for i := len(units) - 1; i >= 0; i-- {
		if err := r.Uninstall(units[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Diagnostics reports unsatisfied requirements across all units.
func (r *Registry) Diagnostics() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	var diag Diagnostics
	for _, u := range r.order {
		resolved := u.Resolved()
		reason := "no compatible provider found"
		if err := u.Err(); err != nil && !resolved {
			reason = err.Error()
		}
		for _, it := range u.items {
			if it.Resolved() {
				continue
			}
			entry := UnresolvedRequirement{
				Unit:        u.name,
				Domain:      u.domain.name,
				Requirement: it.req.String(),
				Reason:      reason,
			}
			if it.req.Blocking() && !resolved {
				diag.UnresolvedRequired = append(diag.UnresolvedRequired, entry)
			} else if !it.req.Blocking() {
				diag.UnresolvedOptional = append(diag.UnresolvedOptional, entry)
			}
		}
		if u.NeedsRefresh() {
			diag.NeedsRefresh = append(diag.NeedsRefresh, u.name)
		}
	}
	return diag
}

func (r *Registry) countLoad(found bool) {
	outcome := "found"
	if !found {
		outcome = "not_found"
	}
	r.metrics.loadRequestsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) countConflict(u *Unit, err error) {
	kind := conflictKind(err)
	if kind == "other" {
		return
	}
	r.metrics.joinConflictsTotal.WithLabelValues(kind).Inc()
	r.recordEventf(u, EventTypeWarning, ReasonJoinConflict, "%v", err)
}

func (r *Registry) updateUnresolvedGauge() {
	n := 0
	for _, u := range r.order {
		if u.Resolved() || u.leaving {
			continue
		}
		for _, it := range u.items {
			if it.req.Blocking() && !it.Resolved() {
				n++
				break
			}
		}
	}
	r.metrics.unresolvedRequired.Set(float64(n))
}

// resolveLocked resolves an unresolved unit in one transaction.
func (r *Registry) resolveLocked(u *Unit) error {
	start := time.Now()
	defer func() { r.metrics.resolveDuration.Observe(time.Since(start).Seconds()) }()

	var seed *Space
	if u.space != 0 {
		seed = r.spaces[u.space]
	}
	tx := r.newTxn(seed)
	err := tx.admit(u)
	if err == nil {
		err = tx.resolveUnit(u)
	}
	if err == nil {
		err = r.commit(tx, nil)
	}
	if err != nil {
		prev := u.Err()
		u.setFailure(err)
		r.metrics.resolveTotal.WithLabelValues("failure").Inc()
		if prev == nil || prev.Error() != err.Error() {
			r.log.V(1).Info("unit unresolved", "unit", u.String(), "reason", err.Error())
			r.recordEventf(u, EventTypeWarning, ReasonUnresolved, "%v", err)
		}
		return err
	}
	return nil
}

// bindLate binds optional and dynamic items of a resolved unit whose
// providers have appeared since it resolved.
func (r *Registry) bindLate(u *Unit) error {
	sp, ok := r.spaces[u.space]
	if !ok {
		return nil
	}
	tx := r.newTxn(sp)
	if err := tx.resolveUnit(u); err != nil {
		return err
	}
	if len(tx.bindings) == 0 && len(tx.resolved) == 0 {
		return nil
	}
	return r.commit(tx, nil)
}

func (r *Registry) hasLateItems(u *Unit) bool {
	for _, it := range u.items {
		if it.req.Dynamic && !it.req.IsWildcard() && !it.Resolved() {
			return true
		}
	}
	return false
}

// resolvePass retries every unresolved unit and every unbound dynamic
// requirement until nothing changes.
func (r *Registry) resolvePass() {
	for {
		progress := false
		for _, u := range append([]*Unit(nil), r.order...) {
			if u.leaving || u.State() == StateUninstalled {
				continue
			}
			if !u.Resolved() {
				if r.resolveLocked(u) == nil {
					progress = true
				}
				continue
			}
			if r.hasLateItems(u) {
				before := r.generation.Load()
				if err := r.bindLate(u); err == nil && r.generation.Load() != before {
					progress = true
				}
			}
		}
		if !progress {
			break
		}
	}
	r.updateUnresolvedGauge()
}

// commit applies a validated proposal. The largest fully absorbed space
// becomes the result unless a target is given; emptied spaces are dropped.
func (r *Registry) commit(tx *txn, target *Space) error {
	var moves []*Unit
	for _, u := range tx.order {
		o := tx.origin[u.id]
		if o == 0 || tx.absorbed[o] || (target != nil && o == target.id) {
			continue
		}
		if sp, ok := r.spaces[o]; ok {
			if err := sp.validateSplit(u); err != nil {
				r.countConflict(u, err)
				return err
			}
			moves = append(moves, u)
		}
	}
	if target == nil {
		for _, id := range sortedSpaceIDs(tx.absorbed) {
			sp, ok := r.spaces[id]
			if ok && (target == nil || sp.Len() > target.Len()) {
				target = sp
			}
		}
	}
	if target == nil {
		target = r.newSpaceLocked()
	}

	for _, u := range moves {
		sp := r.spaces[tx.origin[u.id]]
		sp.remove(u)
		if sp.Len() == 0 {
			delete(r.spaces, sp.id)
		}
	}
	for id := range tx.absorbed {
		if id != target.id {
			delete(r.spaces, id)
		}
	}
	target.install(tx)
	for _, u := range tx.order {
		u.space = target.id
	}
	for it, t := range tx.bindings {
		it.target.Store(t)
		t.dependents[it] = struct{}{}
	}
	r.generation.Add(1)

	for _, u := range tx.resolved {
		u.setState(StateResolved)
		u.setFailure(nil)
		u.domain.addExporter(u)
	}
	for _, u := range tx.resolved {
		r.announce(u)
	}
	// Wildcard candidate lists changed after the first bump, so lookups
	// cached in between must not survive.
	r.generation.Add(1)
	for _, u := range tx.resolved {
		r.markResolved(u)
	}
	return nil
}

// announce opens u's wildcard bindings and offers u to every wildcard
// listener in its domain.
func (r *Registry) announce(u *Unit) {
	for _, it := range u.items {
		if it.req.IsWildcard() {
			r.openBinding(it)
		}
	}
	for _, b := range u.domain.snapshotListeners() {
		b.addModule(u)
	}
}

func (r *Registry) markResolved(u *Unit) {
	r.metrics.resolveTotal.WithLabelValues("success").Inc()
	r.log.Info("unit resolved", "unit", u.String(), "space", u.space)
	r.recordEventf(u, EventTypeNormal, ReasonResolved, "Unit %s resolved", u.String())
	if u.listener != nil {
		u.listener.UnitResolved(u)
	}
	if u.restart {
		u.restart = false
		r.startLocked(u)
	}
}

// unresolveLocked takes a resolved unit back to unresolved and applies its
// shutdown policy to every unit bound to it.
func (r *Registry) unresolveLocked(u *Unit) {
	if !u.Resolved() {
		return
	}
	if u.State() == StateStarted {
		r.stopLocked(u)
		u.restart = !u.leaving
	}
	u.setState(StateUnresolved)
	if u.listener != nil {
		u.listener.UnitUnresolved(u)
	}
	for _, it := range u.items {
		if b := it.wildcard.Swap(nil); b != nil {
			b.close()
		}
		if t := it.target.Swap(nil); t != nil {
			delete(t.dependents, it)
		}
	}
	u.domain.removeExporter(u)
	if u.space != 0 {
		if err := r.split(u); err != nil {
			r.log.Error(err, "split on unresolve", "unit", u.String())
		}
	}
	r.generation.Add(1)

	var affected []dependent
	seen := map[*Unit]bool{}
	deps := make([]*DependencyItem, 0, len(u.dependents))
	for it := range u.dependents {
		deps = append(deps, it)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].owner.seq < deps[j].owner.seq })
	for _, it := range deps {
		if seen[it.owner] {
			continue
		}
		seen[it.owner] = true
		it := it
		affected = append(affected, dependent{unit: it.owner, bound: func() bool { return it.target.Load() == u }})
	}
	for _, b := range u.domain.snapshotListeners() {
		if !b.removeModule(u) || seen[b.owner] {
			continue
		}
		seen[b.owner] = true
		b := b
		affected = append(affected, dependent{unit: b.owner, bound: func() bool { return b.item.wildcard.Load() == b }})
	}
	r.generation.Add(1)
	r.log.Info("unit unresolved", "unit", u.String(), "dependents", len(affected))
	for _, d := range affected {
		if d.bound() {
			r.providerGone(d.unit, u)
		}
	}
}

// dependent is a unit bound to a departing provider. bound reports whether
// the binding still exists, since an earlier bounce may have replaced it.
type dependent struct {
	unit  *Unit
	bound func() bool
}

// providerGone applies departed's shutdown policy to a dependent.
func (r *Registry) providerGone(dependent, departed *Unit) {
	if !dependent.Resolved() || dependent == departed {
		return
	}
	if departed.shutdown == ShutdownNonCascade {
		dependent.needsRefresh.Store(true)
		r.metrics.bouncesTotal.WithLabelValues("false").Inc()
		r.recordEventf(dependent, EventTypeNormal, ReasonNeedsRefresh, "Provider %s departed", departed.String())
		return
	}
	r.metrics.bouncesTotal.WithLabelValues("true").Inc()
	r.recordEventf(dependent, EventTypeNormal, ReasonBounced, "Provider %s departed", departed.String())
	if err := r.bounceLocked(dependent); err != nil {
		r.log.V(1).Info("bounced unit did not re-resolve", "unit", dependent.String(), "reason", err.Error())
	}
}

// bounceLocked runs one unresolve and resolve cycle.
func (r *Registry) bounceLocked(u *Unit) error {
	r.unresolveLocked(u)
	if u.leaving {
		return nil
	}
	return r.resolveLocked(u)
}

func (r *Registry) split(u *Unit) error {
	sp, ok := r.spaces[u.space]
	if !ok {
		u.space = 0
		return nil
	}
	if err := sp.validateSplit(u); err != nil {
		r.countConflict(u, err)
		return err
	}
	sp.remove(u)
	u.space = 0
	if sp.Len() == 0 {
		delete(r.spaces, sp.id)
	} else {
		r.log.V(2).Info("space split", "space", sp.id, "unit", u.String(), "remaining", sp.Len())
	}
	return nil
}

func (r *Registry) startLocked(u *Unit) {
	u.setState(StateStarted)
	if u.listener != nil {
		u.listener.UnitStarted(u)
	}
}

func (r *Registry) stopLocked(u *Unit) {
	u.setState(StateResolved)
	if u.listener != nil {
		u.listener.UnitStopped(u)
	}
}
