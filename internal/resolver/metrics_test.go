package resolver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_SharedRegistererReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := newRegistryMetrics(reg)
	b := newRegistryMetrics(reg)
	if a.resolveTotal != b.resolveTotal || a.loadRequestsTotal != b.loadRequestsTotal {
		t.Fatalf("expected the second registry to reuse registered collectors")
	}
}

func TestMetrics_ClashingCollectorPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loadspace_resolve_total",
		Help: "Something else entirely.",
	}))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on a clashing collector")
		}
	}()
	newRegistryMetrics(reg)
}
