package manifest

import (
	"strings"
	"testing"

	"github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/filter"
	"github.com/anvil-platform/loadspace/internal/resolver"
	"github.com/anvil-platform/loadspace/internal/semver"
)

func unitManifest(name string, mutate func(*v1alpha1.UnitManifestSpec)) *v1alpha1.UnitManifest {
	m := &v1alpha1.UnitManifest{}
	m.Name = name
	m.Spec.Unit = v1alpha1.UnitIdentity{Name: name, Version: "1.0.0"}
	if mutate != nil {
		mutate(&m.Spec)
	}
	return m
}

func TestUnitSpec_Converts(t *testing.T) {
	m := unitManifest("svc", func(s *v1alpha1.UnitManifestSpec) {
		s.Shutdown = "non-cascade"
		s.ImportAll = true
		s.Aliases = []v1alpha1.UnitIdentity{{Name: "svc-compat", Version: "0.9.0"}}
		s.Exports = []v1alpha1.ExportedPackage{{Package: "svc.api", Version: "1.0.0", Split: "last", Optional: true}}
		s.Requires = []v1alpha1.Requirement{
			{Kind: "unit", Name: "base", Range: "[1.0.0,2.0.0)", Import: "after"},
			{Name: "plug.*", Dynamic: true, WantReExports: true},
		}
		s.Content = map[string]string{"svc.api.Client": "client"}
	})
	spec, err := UnitSpec(m)
	if err != nil {
		t.Fatalf("UnitSpec: %v", err)
	}
	if spec.Shutdown != resolver.ShutdownNonCascade || !spec.ImportAll || spec.Object != m {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if len(spec.Capabilities) != 2 {
		t.Fatalf("capabilities=%v", spec.Capabilities)
	}
	alias, export := spec.Capabilities[0], spec.Capabilities[1]
	if alias.Kind != capability.KindUnit || alias.Name != "svc-compat" {
		t.Fatalf("alias=%v", alias)
	}
	if export.Split != capability.SplitLast || !export.Optional {
		t.Fatalf("export=%v", export)
	}
	base, plug := spec.Requirements[0], spec.Requirements[1]
	if base.Kind != capability.KindUnit || base.Import != capability.ImportAfter || base.Range.IsInRange(semver.MustParseVersion("2.0.0")) {
		t.Fatalf("base=%v", base)
	}
	if !plug.IsWildcard() || !plug.Dynamic || !plug.WantReExports {
		t.Fatalf("plug=%v", plug)
	}
	if v, ok := spec.Provider.Find("svc.api.Client"); !ok || v != "client" {
		t.Fatalf("content not carried over: %v %v", v, ok)
	}
}

func TestUnitSpec_ReportsEveryFieldError(t *testing.T) {
	m := unitManifest("bad", func(s *v1alpha1.UnitManifestSpec) {
		s.Unit.Version = "not-a-version"
		s.Shutdown = "sometimes"
		s.Exports = []v1alpha1.ExportedPackage{{Package: "x.*"}}
		s.Requires = []v1alpha1.Requirement{{Name: "y", Range: "[2.0.0,1.0.0]"}, {Kind: "unit", Name: "z*"}}
	})
	_, err := UnitSpec(m)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"spec.unit.version", "spec.shutdown", "spec.exports[0]", "spec.requires[0]", "spec.requires[1]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestUnitSpec_RejectsMalformedPackagePattern(t *testing.T) {
	m := unitManifest("bad", func(s *v1alpha1.UnitManifestSpec) {
		s.Requires = []v1alpha1.Requirement{{Name: "plug.*"}, {Name: "plug.[a", Dynamic: true}}
	})
	_, err := UnitSpec(m)
	if err == nil {
		t.Fatalf("expected malformed pattern to be rejected")
	}
	if !strings.Contains(err.Error(), "spec.requires[1]") || !strings.Contains(err.Error(), "plug.[a") {
		t.Fatalf("error should name the bad requirement: %v", err)
	}
	if strings.Contains(err.Error(), "spec.requires[0]") {
		t.Fatalf("valid pattern reported as invalid: %v", err)
	}
}

func TestDomainPolicy(t *testing.T) {
	m := &v1alpha1.DomainManifest{}
	m.Name = "d"
	m.Spec.Policy = "before-but-reserved-only"
	p, err := DomainPolicy(m, filter.Recursive("system"))
	if err != nil {
		t.Fatalf("DomainPolicy: %v", err)
	}
	if !p.Before.MatchesName("system.Foo") || p.Before.MatchesName("app.Foo") {
		t.Fatalf("policy %s does not honor the reserved namespace", p)
	}
	m.Spec.Policy = "sideways"
	if _, err := DomainPolicy(m, filter.Nothing()); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}
