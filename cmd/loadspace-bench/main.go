package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anvil-platform/loadspace/internal/capability"
	"github.com/anvil-platform/loadspace/internal/manifest"
	"github.com/anvil-platform/loadspace/internal/resolver"
	"github.com/anvil-platform/loadspace/internal/semver"
)

func main() {
	var manifestDir string
	var consumerName string
	var providers int
	var workers int
	var loads int
	var churnEvery time.Duration

	flag.StringVar(&manifestDir, "manifests", "", "Directory of manifests to load instead of the synthetic plugin set")
	flag.StringVar(&consumerName, "consumer", "", "Unit to issue loads from when -manifests is set")
	flag.IntVar(&providers, "providers", 32, "Number of synthetic plugin units")
	flag.IntVar(&workers, "workers", 8, "Concurrent loaders")
	flag.IntVar(&loads, "loads", 10000, "Loads per worker")
	flag.DurationVar(&churnEvery, "churn", 5*time.Millisecond, "Reinstall a provider at this interval while loading; 0 disables")
	flag.Parse()

	reg := resolver.NewRegistry(resolver.Options{Registerer: prometheus.NewRegistry()})

	var consumer *resolver.Unit
	var names []string
	if manifestDir != "" {
		set, err := manifest.LoadDir(manifestDir)
		if err != nil {
			log.Fatalf("Error loading manifests: %v", err)
		}
		applier := manifest.NewApplier(reg, reg.Logger())
		if err := applier.Apply(set); err != nil {
			log.Fatalf("Error applying manifests: %v", err)
		}
		u, ok := applier.Unit(consumerName)
		if !ok {
			log.Fatalf("Consumer unit %q not found", consumerName)
		}
		consumer = u
		for _, m := range set.Units {
			for k := range m.Spec.Content {
				names = append(names, k)
			}
		}
		sort.Strings(names)
	} else {
		var err error
		consumer, names, err = synthesize(reg, providers)
		if err != nil {
			log.Fatalf("Error building synthetic units: %v", err)
		}
	}
	if len(names) == 0 {
		log.Fatalf("Nothing to load")
	}
	if !consumer.Resolved() {
		log.Fatalf("Consumer %s is not resolved: %v", consumer, consumer.Err())
	}

	fmt.Printf("Starting bench: %d workers x %d loads over %d names\n", workers, loads, len(names))

	ctx, cancel := context.WithCancel(context.Background())
	var churned atomic.Int64
	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		if churnEvery <= 0 || manifestDir != "" {
			return
		}
		churn(ctx, reg, providers, churnEvery, &churned)
	}()

	var wg sync.WaitGroup
	var misses atomic.Int64
	latencies := make([][]time.Duration, workers)
	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			own := make([]time.Duration, 0, loads)
			for i := 0; i < loads; i++ {
				name := names[(id+i)%len(names)]
				t0 := time.Now()
				if _, err := consumer.Load(name); err != nil {
					misses.Add(1)
				}
				own = append(own, time.Since(t0))
			}
			latencies[id] = own
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	cancel()
	<-churnDone

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	fmt.Printf("Bench completed in %v: %d loads, %d misses, %d reinstalls\n", total, len(all), misses.Load(), churned.Load())
	fmt.Printf("p50=%v p99=%v max=%v\n", percentile(all, 0.50), percentile(all, 0.99), all[len(all)-1])
}

func synthesize(reg *resolver.Registry, n int) (*resolver.Unit, []string, error) {
	root := reg.DefaultDomain()
	var names []string
	for i := 0; i < n; i++ {
		spec, name := pluginSpec(i)
		if _, err := reg.Install(spec, root); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
	}
	consumer, err := reg.Install(resolver.UnitSpec{
		Name:         "bench-consumer",
		Requirements: []capability.Requirement{capability.OnPackage("bench.*", semver.AllVersions())},
	}, root)
	return consumer, names, err
}

func pluginSpec(i int) (resolver.UnitSpec, string) {
	pkg := fmt.Sprintf("bench.p%d", i)
	name := pkg + ".Item"
	ver := semver.MustParseVersion("1.0.0")
	return resolver.UnitSpec{
		Name:         fmt.Sprintf("plugin-%d", i),
		Version:      ver,
		Capabilities: []capability.Capability{capability.Package(pkg, ver)},
		Provider:     resolver.MapProvider{name: i},
	}, name
}

func churn(ctx context.Context, reg *resolver.Registry, n int, every time.Duration, count *atomic.Int64) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		spec, _ := pluginSpec(i % n)
		if u, ok := reg.Unit(spec.Name); ok {
			if err := reg.Uninstall(u); err != nil {
				log.Printf("uninstall %s: %v", spec.Name, err)
				continue
			}
		}
		if _, err := reg.Install(spec, reg.DefaultDomain()); err != nil {
			log.Printf("install %s: %v", spec.Name, err)
			continue
		}
		count.Add(1)
	}
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(q*float64(len(sorted)-1))]
}
