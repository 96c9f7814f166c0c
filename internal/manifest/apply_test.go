package manifest

import (
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/resolver"
)

func newTestApplier(t *testing.T) *Applier {
	t.Helper()
	reg := resolver.NewRegistry(resolver.Options{Logger: testr.New(t), Registerer: prometheus.NewRegistry()})
	return NewApplier(reg, testr.New(t))
}

func loadPlugins(t *testing.T) *Set {
	t.Helper()
	set, err := LoadFile("testdata/plugins.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return set
}

func domainManifest(name, parent string) *v1alpha1.DomainManifest {
	m := &v1alpha1.DomainManifest{}
	m.Name = name
	m.Spec.Parent = parent
	return m
}

func mustUnit(t *testing.T, a *Applier, name string) *resolver.Unit {
	t.Helper()
	u, ok := a.Unit(name)
	if !ok {
		t.Fatalf("unit %s not applied", name)
	}
	return u
}

func TestApply_ResolvesAcrossDomains(t *testing.T) {
	a := newTestApplier(t)
	if err := a.Apply(loadPlugins(t)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	d, ok := a.Registry.DomainByName("plugins")
	if !ok {
		t.Fatalf("plugins domain missing")
	}
	if d.Policy().Name != "after-but-reserved-before" {
		t.Fatalf("policy=%s", d.Policy())
	}
	greeter := mustUnit(t, a, "greeter")
	if greeter.State() != resolver.StateResolved {
		t.Fatalf("greeter state=%s err=%v", greeter.State(), greeter.Err())
	}
	h, err := greeter.Load("host.api.Service")
	if err != nil || h.Value != "host-service" || h.Unit != "host" {
		t.Fatalf("load=%+v err=%v", h, err)
	}
}

func TestApply_OrdersDomainsByParent(t *testing.T) {
	a := newTestApplier(t)
	set := &Set{Domains: []*v1alpha1.DomainManifest{
		domainManifest("leaf", "mid"),
		domainManifest("mid", "top"),
		domainManifest("top", ""),
	}}
	if err := a.Apply(set); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	leaf, ok := a.Registry.DomainByName("leaf")
	if !ok || leaf.Parent().Name() != "mid" || leaf.Parent().Parent().Name() != "top" {
		t.Fatalf("domain chain not built")
	}
}

func TestApply_RejectsBadDomains(t *testing.T) {
	a := newTestApplier(t)
	set := &Set{Domains: []*v1alpha1.DomainManifest{
		domainManifest("x", "y"),
		domainManifest("y", "x"),
		domainManifest("orphan", "nowhere"),
		domainManifest("default", ""),
		domainManifest("fine", ""),
	}}
	err := a.Apply(set)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"parent cycle", "unknown parent", "reserved"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
	if _, ok := a.Registry.DomainByName("fine"); !ok {
		t.Fatalf("valid domains must still be created")
	}
	if _, ok := a.Registry.DomainByName("x"); ok {
		t.Fatalf("cyclic domains must not be created")
	}
}

func TestApply_ReloadRemovesAndReplaces(t *testing.T) {
	a := newTestApplier(t)
	if err := a.Apply(loadPlugins(t)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	greeter := mustUnit(t, a, "greeter")

	// Bumping the host version reinstalls it; greeter rebinds.
	set := loadPlugins(t)
	set.Units[0].Spec.Unit.Version = "1.3.0"
	set.Units[0].Spec.Exports[0].Version = "1.3.0"
	if err := a.Apply(set); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if mustUnit(t, a, "greeter") != greeter {
		t.Fatalf("an unchanged manifest must keep its unit")
	}
	if got := greeter.Items()[0].Target(); got == nil || got.Version().String() != "1.3.0" {
		t.Fatalf("greeter bound to %v", got)
	}

	// Dropping the host leaves greeter unresolved.
	set = loadPlugins(t)
	set.Units = set.Units[1:]
	if err := a.Apply(set); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := a.Unit("host"); ok {
		t.Fatalf("host must be removed")
	}
	if greeter.State() != resolver.StateUnresolved {
		t.Fatalf("greeter state=%s", greeter.State())
	}
}

func TestApply_InvalidUnitDoesNotBlockOthers(t *testing.T) {
	a := newTestApplier(t)
	set := loadPlugins(t)
	set.Units = append(set.Units,
		unitManifest("broken", func(s *v1alpha1.UnitManifestSpec) { s.Shutdown = "maybe" }),
		unitManifest("lost", func(s *v1alpha1.UnitManifestSpec) { s.Domain = "missing" }),
	)
	err := a.Apply(set)
	if err == nil || !strings.Contains(err.Error(), "unit broken") || !strings.Contains(err.Error(), "unknown domain") {
		t.Fatalf("unexpected error %v", err)
	}
	if mustUnit(t, a, "greeter").State() != resolver.StateResolved {
		t.Fatalf("valid units must still resolve")
	}
}

func TestSyncStatus(t *testing.T) {
	a := newTestApplier(t)
	set := loadPlugins(t)
	set.Units = append(set.Units, unitManifest("needy", func(s *v1alpha1.UnitManifestSpec) {
		s.Requires = []v1alpha1.Requirement{{Name: "absent.pkg"}}
	}))
	if err := a.Apply(set); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out := a.SyncStatus()
	if len(out.Units) != 3 || len(out.Domains) != 1 {
		t.Fatalf("status set %d units %d domains", len(out.Units), len(out.Domains))
	}

	byName := map[string]*v1alpha1.UnitManifest{}
	for _, m := range out.Units {
		byName[m.Spec.Unit.Name] = m
	}
	greeter := byName["greeter"]
	if greeter.Status.Phase != v1alpha1.PhaseResolved {
		t.Fatalf("greeter phase=%s", greeter.Status.Phase)
	}
	if len(greeter.Status.Bindings) != 1 || greeter.Status.Bindings[0].Provider != "host@1.2.0" {
		t.Fatalf("bindings=%+v", greeter.Status.Bindings)
	}
	if !meta.IsStatusConditionTrue(greeter.Status.Conditions, v1alpha1.ConditionResolved) {
		t.Fatalf("greeter must be Resolved=True")
	}

	needy := byName["needy"]
	if needy.Status.Phase != v1alpha1.PhaseUnresolved || needy.Status.Message == "" {
		t.Fatalf("needy status=%+v", needy.Status)
	}
	cond := meta.FindStatusCondition(needy.Status.Conditions, v1alpha1.ConditionResolved)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != ReasonUnresolved {
		t.Fatalf("needy condition=%+v", cond)
	}

	plugins := out.Domains[0]
	if plugins.Status.Units != 1 || !meta.IsStatusConditionTrue(plugins.Status.Conditions, v1alpha1.ConditionReady) {
		t.Fatalf("domain status=%+v", plugins.Status)
	}
}
