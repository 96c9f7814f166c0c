package graph

import (
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/policy"
	"github.com/anvil-platform/loadspace/internal/resolver"
	"github.com/anvil-platform/loadspace/internal/semver"
)

func TestBuild(t *testing.T) {
	reg := resolver.NewRegistry(resolver.Options{Logger: testr.New(t), Registerer: prometheus.NewRegistry()})
	root := reg.DefaultDomain()
	plugins, err := reg.CreateDomain("plugins", policy.After(), root)
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	one := semver.MustParseVersion("1.0.0")
	install := func(spec resolver.UnitSpec, d resolver.DomainID) *resolver.Unit {
		t.Helper()
		u, err := reg.Install(spec, d)
		if err != nil {
			t.Fatalf("Install(%s): %v", spec.Name, err)
		}
		return u
	}

	install(resolver.UnitSpec{
		Name:         "base",
		Version:      one,
		Capabilities: []capability.Capability{capability.Package("base.api", one)},
	}, root)
	install(resolver.UnitSpec{
		Name:         "plug",
		Version:      one,
		Capabilities: []capability.Capability{capability.Package("plug.x", one)},
		Requirements: []capability.Requirement{capability.OnPackage("base.api", semver.AllVersions())},
		Provider:     resolver.MapProvider{"plug.x.Impl": "x"},
	}, plugins)
	host := install(resolver.UnitSpec{
		Name:         "host",
		Requirements: []capability.Requirement{capability.OnPackage("plug.*", semver.AllVersions())},
	}, plugins)
	install(resolver.UnitSpec{
		Name:         "orphan",
		Requirements: []capability.Requirement{capability.OnUnit("ghost", semver.AllVersions())},
	}, root)

	if _, err := host.Load("plug.x.Impl"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	g := Build(reg)
	if len(g.Units) != 4 {
		t.Fatalf("units=%d want 4", len(g.Units))
	}
	want := []Edge{
		{From: "host", To: "plug", Wildcard: true},
		{From: "plug", To: "base"},
	}
	if len(g.Edges) != len(want) {
		t.Fatalf("edges=%+v", g.Edges)
	}
	for i := range want {
		if g.Edges[i].From != want[i].From || g.Edges[i].To != want[i].To || g.Edges[i].Wildcard != want[i].Wildcard {
			t.Fatalf("edge %d=%+v want %+v", i, g.Edges[i], want[i])
		}
	}
	if len(g.Unbound) != 1 || !strings.HasPrefix(g.Unbound[0], "orphan: ") {
		t.Fatalf("unbound=%v", g.Unbound)
	}

	dot := g.DOT()
	for _, frag := range []string{`label="plugins"`, `"host" -> "plug"`, "style=dotted", `"orphan" [label="orphan@`, "style=dashed"} {
		if !strings.Contains(dot, frag) {
			t.Errorf("DOT missing %q:\n%s", frag, dot)
		}
	}
}
