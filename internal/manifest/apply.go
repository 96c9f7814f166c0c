package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/resolver"
)

type appliedUnit struct {
	unit        *resolver.Unit
	manifest    *v1alpha1.UnitManifest
	fingerprint string
}

// Applier reconciles a registry against successive manifest sets. Units that
// disappear from a set are uninstalled; units whose spec changed are
// reinstalled. Domains are only ever added.
type Applier struct {
	Registry *resolver.Registry
	Log      logr.Logger

	units   map[string]*appliedUnit
	domains map[string]*v1alpha1.DomainManifest
}

func NewApplier(reg *resolver.Registry, log logr.Logger) *Applier {
	return &Applier{
		Registry: reg,
		Log:      log,
		units:    map[string]*appliedUnit{},
		domains:  map[string]*v1alpha1.DomainManifest{},
	}
}

// Apply brings the registry in line with set. Errors for individual manifests
// are aggregated; valid manifests are still applied.
func (a *Applier) Apply(set *Set) error {
	var errs []error
	errs = append(errs, a.applyDomains(set.Domains)...)
	errs = append(errs, a.applyUnits(set.Units)...)
	return utilerrors.NewAggregate(errs)
}

// Unit returns the unit installed for a manifest name.
func (a *Applier) Unit(name string) (*resolver.Unit, bool) {
	au, ok := a.units[name]
	if !ok {
		return nil, false
	}
	return au.unit, true
}

func (a *Applier) applyDomains(domains []*v1alpha1.DomainManifest) []error {
	ordered, errs := sortDomains(domains, a.Registry)
	for _, m := range ordered {
		if existing, ok := a.Registry.DomainByName(m.Name); ok {
			if existing.Parent() == nil || existing.Parent().Name() != parentName(m) {
				errs = append(errs, fmt.Errorf("domain %s: parent cannot change", m.Name))
			}
			a.domains[m.Name] = m
			continue
		}
		p, err := DomainPolicy(m, a.Registry.Reserved())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		parent, ok := a.Registry.DomainByName(parentName(m))
		if !ok {
			errs = append(errs, fmt.Errorf("domain %s: unknown parent %q", m.Name, parentName(m)))
			continue
		}
		if _, err := a.Registry.CreateDomain(m.Name, p, parent.ID()); err != nil {
			errs = append(errs, fmt.Errorf("domain %s: %w", m.Name, err))
			continue
		}
		a.domains[m.Name] = m
		a.Log.Info("domain created", "domain", m.Name, "parent", parentName(m), "policy", p.String())
	}
	return errs
}

func parentName(m *v1alpha1.DomainManifest) string {
	if m.Spec.Parent == "" {
		return resolver.DefaultDomainName
	}
	return m.Spec.Parent
}

// sortDomains orders manifests so parents come before children. Manifests
// whose parent chain loops are reported and dropped.
func sortDomains(domains []*v1alpha1.DomainManifest, reg *resolver.Registry) ([]*v1alpha1.DomainManifest, []error) {
	byName := make(map[string]*v1alpha1.DomainManifest, len(domains))
	var names []string
	var errs []error
	for _, m := range domains {
		if m.Name == resolver.DefaultDomainName {
			errs = append(errs, fmt.Errorf("domain %s is reserved", m.Name))
			continue
		}
		if _, dup := byName[m.Name]; dup {
			errs = append(errs, fmt.Errorf("domain %s declared twice", m.Name))
			continue
		}
		byName[m.Name] = m
		names = append(names, m.Name)
	}
	sort.Strings(names)

	var out []*v1alpha1.DomainManifest
	done := sets.New[string]()
	visiting := sets.New[string]()
	var visit func(name string) error
	visit = func(name string) error {
		if done.Has(name) {
			return nil
		}
		m, ok := byName[name]
		if !ok {
			// Existing domain or unknown; applyDomains reports the latter.
			return nil
		}
		if visiting.Has(name) {
			return fmt.Errorf("domain %s: parent cycle", name)
		}
		visiting.Insert(name)
		if err := visit(parentName(m)); err != nil {
			return err
		}
		visiting.Delete(name)
		done.Insert(name)
		out = append(out, m)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			errs = append(errs, err)
			done = done.Union(visiting)
			visiting = sets.New[string]()
		}
	}
	return out, errs
}

func (a *Applier) applyUnits(units []*v1alpha1.UnitManifest) []error {
	var errs []error
	desired := map[string]*v1alpha1.UnitManifest{}
	var order []string
	for _, m := range units {
		if _, dup := desired[m.Spec.Unit.Name]; dup {
			errs = append(errs, fmt.Errorf("unit %s declared twice", m.Spec.Unit.Name))
			continue
		}
		desired[m.Spec.Unit.Name] = m
		order = append(order, m.Spec.Unit.Name)
	}

	// Removals and changed units go first so replacements can take over
	// their exports.
	var stale []string
	for name, au := range a.units {
		m, ok := desired[name]
		if !ok || fingerprint(m) != au.fingerprint {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		au := a.units[name]
		if err := a.Registry.Uninstall(au.unit); err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", name, err))
		}
		delete(a.units, name)
		a.Log.Info("unit removed", "unit", name)
	}

	for _, name := range order {
		m := desired[name]
		if au, ok := a.units[name]; ok {
			au.manifest = m
			continue
		}
		spec, err := UnitSpec(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", name, err))
			continue
		}
		domain := m.Spec.Domain
		if domain == "" {
			domain = resolver.DefaultDomainName
		}
		d, ok := a.Registry.DomainByName(domain)
		if !ok {
			errs = append(errs, fmt.Errorf("unit %s: %w: %q", name, resolver.ErrUnknownDomain, domain))
			continue
		}
		u, err := a.Registry.Install(spec, d.ID())
		if err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", name, err))
			continue
		}
		a.units[name] = &appliedUnit{unit: u, manifest: m, fingerprint: fingerprint(m)}
	}
	return errs
}

func fingerprint(m *v1alpha1.UnitManifest) string {
	b, err := json.Marshal(m.Spec)
	if err != nil {
		return ""
	}
	return string(b)
}
