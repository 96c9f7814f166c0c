package resolver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

type registryMetrics struct {
	resolveTotal       *prometheus.CounterVec
	joinConflictsTotal *prometheus.CounterVec
	unresolvedRequired prometheus.Gauge
	bouncesTotal       *prometheus.CounterVec
	resolveDuration    prometheus.Histogram
	loadRequestsTotal  *prometheus.CounterVec
}

func newRegistryMetrics(reg prometheus.Registerer) *registryMetrics {
	if reg == nil {
		reg = metrics.Registry
	}
	m := &registryMetrics{
		resolveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadspace_resolve_total",
				Help: "Number of unit resolution attempts by outcome.",
			},
			[]string{"outcome"},
		),
		joinConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadspace_join_conflicts_total",
				Help: "Number of rejected space joins by kind.",
			},
			[]string{"kind"},
		),
		unresolvedRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadspace_unresolved_required",
				Help: "Number of installed units with an unsatisfied blocking requirement.",
			},
		),
		bouncesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadspace_bounces_total",
				Help: "Number of units unresolved because a provider departed.",
			},
			[]string{"cascade"},
		),
		resolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loadspace_resolve_duration_seconds",
				Help:    "Time taken to resolve a unit.",
				Buckets: prometheus.DefBuckets,
			},
		),
		loadRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadspace_load_requests_total",
				Help: "Number of load requests by outcome.",
			},
			[]string{"outcome"},
		),
	}
	m.resolveTotal = register(reg, m.resolveTotal)
	m.joinConflictsTotal = register(reg, m.joinConflictsTotal)
	m.unresolvedRequired = register(reg, m.unresolvedRequired)
	m.bouncesTotal = register(reg, m.bouncesTotal)
	m.resolveDuration = register(reg, m.resolveDuration)
	m.loadRequestsTotal = register(reg, m.loadRequestsTotal)
	return m
}

// register reuses an identical collector that is already registered, so
// several registries can share one Registerer. Any other registration error
// panics, as MustRegister does.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func conflictKind(err error) string {
	switch {
	case errors.Is(err, ErrConflict):
		return "export"
	case errors.Is(err, ErrInconsistent):
		return "requirement"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant"
	default:
		return "other"
	}
}
