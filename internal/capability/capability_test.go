package capability

import (
	"testing"

	"github.com/anvil-platform/loadspace/internal/semver"
)

func v(s string) semver.Version { return semver.MustParseVersion(s) }

func r(s string) semver.Range { return semver.MustParseRange(s) }

func TestResolves_TypeCheckedFirst(t *testing.T) {
	unitCap := Unit("acme.core", v("1.0.0"))
	pkgCap := Package("acme.core", v("1.0.0"))

	if !unitCap.Resolves(OnUnit("acme.core", r(""))) {
		t.Fatalf("unit capability should resolve a unit requirement")
	}
	if unitCap.Resolves(OnPackage("acme.core", r(""))) {
		t.Fatalf("unit capability must not resolve a package requirement")
	}
	if pkgCap.Resolves(OnUnit("acme.core", r(""))) {
		t.Fatalf("package capability must not resolve a unit requirement")
	}
}

func TestResolves_VersionContainment(t *testing.T) {
	c := Package("acme.util", v("1.5.0"))
	if !c.Resolves(OnPackage("acme.util", r("[1.0.0,2.0.0)"))) {
		t.Fatalf("expected 1.5.0 in [1.0.0,2.0.0)")
	}
	if c.Resolves(OnPackage("acme.util", r("[2.0.0,3.0.0)"))) {
		t.Fatalf("expected 1.5.0 outside [2.0.0,3.0.0)")
	}
	if c.Resolves(OnPackage("acme.other", r(""))) {
		t.Fatalf("names must match exactly")
	}
}

func TestResolves_Wildcard(t *testing.T) {
	req := OnPackage("acme.plugins.*", r(""))
	if !req.IsWildcard() {
		t.Fatalf("expected wildcard")
	}
	if !Package("acme.plugins.audio", v("1.0.0")).Resolves(req) {
		t.Fatalf("expected pattern match")
	}
	if Package("acme.core", v("1.0.0")).Resolves(req) {
		t.Fatalf("unexpected pattern match")
	}
	if OnUnit("acme.*", r("")).IsWildcard() {
		t.Fatalf("unit requirements are never wildcards")
	}
}

func TestRequirement_IsConsistent(t *testing.T) {
	a := OnPackage("p", r("[1.0.0,2.0.0)"))
	b := OnPackage("p", r("[2.0.0,3.0.0)"))
	c := OnPackage("q", r("[5.0.0,6.0.0)"))
	d := OnUnit("p", r("[5.0.0,6.0.0)"))

	if a.IsConsistent(b) || b.IsConsistent(a) {
		t.Fatalf("disjoint ranges on the same package must be inconsistent")
	}
	if !a.IsConsistent(c) || !c.IsConsistent(a) {
		t.Fatalf("different names are trivially consistent")
	}
	if !a.IsConsistent(d) || !d.IsConsistent(a) {
		t.Fatalf("different kinds are trivially consistent")
	}
	w := OnPackage("p*", r("9.0.0"))
	if !w.IsConsistent(a) {
		t.Fatalf("wildcards never conflict")
	}
}

func TestRequirement_MalformedPatternMatchesNothing(t *testing.T) {
	req := OnPackage("plug.[a", r(""))
	if !req.IsWildcard() {
		t.Fatalf("expected a wildcard requirement")
	}
	if err := req.Validate(); err == nil {
		t.Fatalf("expected Validate to reject %q", req.Name)
	}
	for _, pkg := range []string{"plug.a", "plug.", "plug.[a", ""} {
		if req.MatchesPackage(pkg) {
			t.Fatalf("malformed pattern matched %q", pkg)
		}
		if Package(pkg, v("1.0.0")).Resolves(req) {
			t.Fatalf("malformed pattern resolved by %q", pkg)
		}
	}

	ok := OnPackage("plug.*", r(""))
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate(%q): %v", ok.Name, err)
	}
	if p, compiled := ok.Pattern(); !compiled || p.String() != "plug.*" {
		t.Fatalf("Pattern()=%v,%v", p, compiled)
	}
	if !ok.MatchesPackage("plug.x") || ok.MatchesPackage("other.x") {
		t.Fatalf("plug.* matched the wrong packages")
	}
}

func TestRequirement_Blocking(t *testing.T) {
	req := OnPackage("p", r(""))
	if !req.Blocking() {
		t.Fatalf("plain requirement blocks")
	}
	req.Optional = true
	if req.Blocking() {
		t.Fatalf("optional requirement does not block")
	}
	req = OnPackage("p", r(""))
	req.Dynamic = true
	if req.Blocking() {
		t.Fatalf("dynamic requirement does not block")
	}
}

func TestParseHelpers(t *testing.T) {
	if k, err := ParseKind("unit"); err != nil || k != KindUnit {
		t.Fatalf("ParseKind(unit) = %v, %v", k, err)
	}
	if p, err := ParseSplitPolicy("last"); err != nil || p != SplitLast {
		t.Fatalf("ParseSplitPolicy(last) = %v, %v", p, err)
	}
	if p, _ := ParseSplitPolicy(""); p != SplitError {
		t.Fatalf("default split policy must be error")
	}
	if it, err := ParseImportType("after"); err != nil || it != ImportAfter {
		t.Fatalf("ParseImportType(after) = %v, %v", it, err)
	}
	if _, err := ParseKind("widget"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
