package resolver

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/semver"
)

func splitExporter(name, version string, policy capability.SplitPolicy) UnitSpec {
	c := capability.Package("p", v(version))
	c.Split = policy
	return UnitSpec{Name: name, Version: v(version), Capabilities: []capability.Capability{c}}
}

func TestSpace_SplitPolicies(t *testing.T) {
	cases := []struct {
		name      string
		policy    capability.SplitPolicy
		wantErr   error
		wantOwner string
		afterLeft string
	}{
		{name: "error", policy: capability.SplitError, wantErr: ErrConflict, wantOwner: "a"},
		{name: "first", policy: capability.SplitFirst, wantOwner: "a", afterLeft: "b"},
		{name: "last", policy: capability.SplitLast, wantOwner: "b", afterLeft: "b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(t)
			root := r.DefaultDomain()
			a := mustInstall(t, r, splitExporter("a", "1.0.0", capability.SplitError), root)
			b := mustInstall(t, r, splitExporter("b", "2.0.0", tc.policy), root)

			sp, ok := r.SpaceOf(a)
			if !ok {
				t.Fatalf("expected a to be in a space")
			}
			err := sp.Join(b)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				var ce *ConflictError
				if !errors.As(err, &ce) || ce.Conflicting != "a" || ce.Package != "p" {
					t.Fatalf("expected conflict naming a and p, got %#v", err)
				}
				if sp.Len() != 1 {
					t.Fatalf("failed join must leave the space unchanged")
				}
				if got := testutil.ToFloat64(r.metrics.joinConflictsTotal.WithLabelValues("export")); got != 1 {
					t.Fatalf("export conflicts=%v want 1", got)
				}
			} else if err != nil {
				t.Fatalf("Join: %v", err)
			}
			owner, _ := sp.Exporter("p")
			if owner.Name() != tc.wantOwner {
				t.Fatalf("owner=%s want %s", owner.Name(), tc.wantOwner)
			}
			if tc.wantErr != nil {
				return
			}

			// Removing a leaves b as the sole exporter either way.
			if err := sp.Split(a); err != nil {
				t.Fatalf("Split: %v", err)
			}
			owner, ok = sp.Exporter("p")
			if !ok || owner.Name() != tc.afterLeft {
				t.Fatalf("after split owner=%v want %s", owner, tc.afterLeft)
			}
		})
	}
}

func TestSpace_RequesterBindsToSplitOwner(t *testing.T) {
	cases := []struct {
		name      string
		aVersion  string
		bVersion  string
		bPolicy   capability.SplitPolicy
		wantOwner string
	}{
		{name: "last", aVersion: "2.0.0", bVersion: "1.0.0", bPolicy: capability.SplitLast, wantOwner: "b"},
		{name: "first", aVersion: "1.0.0", bVersion: "2.0.0", bPolicy: capability.SplitFirst, wantOwner: "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(t)
			root := r.DefaultDomain()
			a := mustInstall(t, r, splitExporter("a", tc.aVersion, capability.SplitError), root)
			b := mustInstall(t, r, splitExporter("b", tc.bVersion, tc.bPolicy), root)
			sp, _ := r.SpaceOf(a)
			if err := sp.Join(b); err != nil {
				t.Fatalf("Join: %v", err)
			}

			// The higher-versioned exporter is shadowed in the shared space.
			c := mustInstall(t, r, UnitSpec{
				Name:         "c",
				Version:      v("1.0.0"),
				Requirements: []capability.Requirement{capability.OnPackage("p", semver.AllVersions())},
			}, root)
			requireState(t, c, StateResolved)
			if got := c.Items()[0].Target().Name(); got != tc.wantOwner {
				t.Fatalf("c bound to %s want %s", got, tc.wantOwner)
			}
			sc, _ := r.SpaceOf(c)
			owner, ok := sc.Exporter("p")
			if !ok || owner.Name() != tc.wantOwner {
				t.Fatalf("space owner=%v want %s", owner, tc.wantOwner)
			}
		})
	}
}

func TestSpace_RequesterRejectsShadowedCandidate(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	a := mustInstall(t, r, splitExporter("a", "1.0.0", capability.SplitError), root)
	b := mustInstall(t, r, splitExporter("b", "2.0.0", capability.SplitFirst), root)
	sp, _ := r.SpaceOf(a)
	if err := sp.Join(b); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Only b satisfies the range but a owns p in b's space.
	c := mustInstall(t, r, UnitSpec{
		Name:         "c",
		Version:      v("1.0.0"),
		Requirements: []capability.Requirement{capability.OnPackage("p", rng("[2.0.0,3.0.0)"))},
	}, root)
	requireState(t, c, StateUnresolved)
	if !errors.Is(c.Err(), ErrConflict) {
		t.Fatalf("expected conflict cause, got %v", c.Err())
	}
	if _, ok := r.SpaceOf(c); ok {
		t.Fatalf("unresolved requester must not join a space")
	}
	if sp.Len() != 2 {
		t.Fatalf("members=%d want 2", sp.Len())
	}
}

func TestSpace_JoinIsAtomic(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	sp := r.NewSpace()

	a := mustInstall(t, r, UnitSpec{
		Name:         "a",
		Capabilities: []capability.Capability{capability.Package("p", v("1.0.0"))},
		Requirements: []capability.Requirement{capability.OnPackage("q", rng("[1.0.0,2.0.0)"))},
	}, root)
	if err := sp.Join(a); err != nil {
		t.Fatalf("Join(a): %v", err)
	}

	c := mustInstall(t, r, UnitSpec{
		Name:         "c",
		Capabilities: []capability.Capability{capability.Package("r", v("1.0.0"))},
		Requirements: []capability.Requirement{capability.OnPackage("q", rng("[3.0.0,4.0.0)"))},
	}, root)
	err := sp.Join(c)
	var ie *InconsistencyError
	if !errors.As(err, &ie) || ie.Conflicting != "a" {
		t.Fatalf("expected inconsistency with a, got %v", err)
	}
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent sentinel")
	}
	if sp.Len() != 1 {
		t.Fatalf("members=%d want 1", sp.Len())
	}
	if _, ok := sp.Exporter("r"); ok {
		t.Fatalf("rejected unit's exports must not be indexed")
	}
	if owner, _ := sp.Exporter("p"); owner != a {
		t.Fatalf("existing index must be untouched")
	}
	if _, ok := r.SpaceOf(c); ok {
		t.Fatalf("rejected unit must not be a member of any space")
	}
}

func TestSpace_NoFalseConflicts(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	sp := r.NewSpace()

	units := []UnitSpec{
		{Name: "a", Capabilities: []capability.Capability{capability.Package("p", v("1.0.0"))},
			Requirements: []capability.Requirement{capability.OnPackage("q", rng("[1.0.0,2.0.0)"))}},
		{Name: "b", Capabilities: []capability.Capability{capability.Package("r", v("1.0.0"))},
			Requirements: []capability.Requirement{capability.OnPackage("q", rng("[1.5.0,3.0.0)"))}},
		{Name: "c", Requirements: []capability.Requirement{
			capability.OnUnit("q", rng("[9.0.0,9.0.0]")),
			capability.OnPackage("q.*", rng("[9.0.0,9.0.0]")),
		}},
	}
	for _, spec := range units {
		u := mustInstall(t, r, spec, root)
		if err := sp.Join(u); err != nil {
			t.Fatalf("Join(%s): %v", spec.Name, err)
		}
	}
	if sp.Len() != 3 {
		t.Fatalf("members=%d want 3", sp.Len())
	}
}

func TestSpace_OptionalExportsAreNotIndexed(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	opt := capability.Package("p", v("1.0.0"))
	opt.Optional = true
	a := mustInstall(t, r, UnitSpec{Name: "a", Capabilities: []capability.Capability{opt}}, root)
	b := mustInstall(t, r, splitExporter("b", "1.0.0", capability.SplitError), root)

	sp, _ := r.SpaceOf(a)
	if err := sp.Join(b); err != nil {
		t.Fatalf("optional export must not conflict: %v", err)
	}
	if owner, _ := sp.Exporter("p"); owner != b {
		t.Fatalf("expected b to own p")
	}
}

func TestSpace_JoinAndResolveAllMergesSpaces(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	x := mustInstall(t, r, exporting("x", nil, "px"), root)
	y := mustInstall(t, r, exporting("y", nil, "py"), root)
	z := mustInstall(t, r, exporting("z", nil, "pz"), root)
	if len(r.Spaces()) != 3 {
		t.Fatalf("expected one space per standalone unit, got %d", len(r.Spaces()))
	}

	sx, _ := r.SpaceOf(x)
	sy, _ := r.SpaceOf(y)
	if err := sx.JoinAndResolveAll(sy.Units()); err != nil {
		t.Fatalf("JoinAndResolveAll: %v", err)
	}
	if got, _ := r.SpaceOf(y); got != sx {
		t.Fatalf("y must move into x's space")
	}
	if len(r.Spaces()) != 2 {
		t.Fatalf("emptied space must be dropped, have %d", len(r.Spaces()))
	}

	// A merge that conflicts leaves both sides intact.
	clash := mustInstall(t, r, splitExporter("clash", "1.0.0", capability.SplitError), root)
	sc, _ := r.SpaceOf(clash)
	if err := sc.Join(z); err != nil {
		t.Fatalf("Join(z): %v", err)
	}
	dup := mustInstall(t, r, UnitSpec{Name: "dup", Capabilities: []capability.Capability{capability.Package("px", v("1.0.0"))}}, root)
	if err := sc.Join(dup); err != nil {
		t.Fatalf("Join(dup): %v", err)
	}
	before := sx.Len()
	if err := sx.JoinAndResolveAll(sc.Units()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if sx.Len() != before || sc.Len() != 3 {
		t.Fatalf("failed merge changed membership: %d/%d", sx.Len(), sc.Len())
	}
}

func TestSpace_SplitDetectsCorruptIndex(t *testing.T) {
	r := newTestRegistry(t)
	root := r.DefaultDomain()
	a := mustInstall(t, r, splitExporter("a", "1.0.0", capability.SplitError), root)
	sp, _ := r.SpaceOf(a)

	// Point the index at a unit that is not a member.
	other := mustInstall(t, r, UnitSpec{Name: "other", Requirements: []capability.Requirement{capability.OnUnit("missing", semver.AllVersions())}}, root)
	sp.mu.Lock()
	sp.packages["p"] = other
	sp.mu.Unlock()

	err := sp.Split(a)
	var iv *InvariantViolationError
	if !errors.As(err, &iv) || iv.Package != "p" || iv.Actual != "other" {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if sp.Len() != 1 {
		t.Fatalf("aborted split must not mutate the space")
	}
}
