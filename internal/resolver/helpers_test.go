package resolver

import (
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/semver"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(Options{Logger: testr.New(t), Registerer: prometheus.NewRegistry()})
}

func v(s string) semver.Version { return semver.MustParseVersion(s) }

func rng(s string) semver.Range { return semver.MustParseRange(s) }

// exporting builds a spec exporting each package at 1.0.0 with the given
// content.
func exporting(name string, content MapProvider, pkgs ...string) UnitSpec {
	spec := UnitSpec{Name: name, Version: v("1.0.0"), Provider: content}
	for _, p := range pkgs {
		spec.Capabilities = append(spec.Capabilities, capability.Package(p, v("1.0.0")))
	}
	return spec
}

func mustInstall(t *testing.T, r *Registry, spec UnitSpec, d DomainID) *Unit {
	t.Helper()
	u, err := r.Install(spec, d)
	if err != nil {
		t.Fatalf("Install(%s): %v", spec.Name, err)
	}
	return u
}

func mustUninstall(t *testing.T, r *Registry, u *Unit) {
	t.Helper()
	if err := r.Uninstall(u); err != nil {
		t.Fatalf("Uninstall(%s): %v", u.Name(), err)
	}
}

func requireState(t *testing.T, u *Unit, want State) {
	t.Helper()
	if got := u.State(); got != want {
		t.Fatalf("unit %s state=%s want %s (err=%v)", u.Name(), got, want, u.Err())
	}
}

func requireLoad(t *testing.T, u *Unit, name string, want any) {
	t.Helper()
	h, err := u.Load(name)
	if err != nil {
		t.Fatalf("%s.Load(%q): %v", u.Name(), name, err)
	}
	if h.Value != want {
		t.Fatalf("%s.Load(%q)=%v want %v", u.Name(), name, h.Value, want)
	}
}

// transitions records lifecycle callbacks.
type transitions struct {
	mu     sync.Mutex
	events []string
}

func (tr *transitions) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, s)
}

func (tr *transitions) UnitResolved(*Unit) { tr.add("resolved") }
func (tr *transitions) UnitUnresolved(*Unit) { tr.add("unresolved") }
func (tr *transitions) UnitStarted(*Unit) { tr.add("started") }
func (tr *transitions) UnitStopped(*Unit) { tr.add("stopped") }

func (tr *transitions) take() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := tr.events
	tr.events = nil
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
