package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	loadspacev1alpha1 "github.com/anvil-platform/loadspace/api/v1alpha1"
	"github.com/anvil-platform/loadspace/internal/graph"
	"github.com/anvil-platform/loadspace/internal/manifest"
	"github.com/anvil-platform/loadspace/internal/policy"
	"github.com/anvil-platform/loadspace/internal/resolver"
)

// resolutionService reports NOT_SERVING while any required requirement is
// unbound.
const resolutionService = "loadspace.Resolution"

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(loadspacev1alpha1.AddToScheme(scheme))
}

func main() {
	var manifestDir string
	var metricsAddr string
	var probeAddr string
	var grpcHealthAddr string
	var reloadInterval time.Duration
	var cacheSize int
	var defaultPolicy string

	flag.StringVar(&manifestDir, "manifests", "manifests", "Directory of UnitManifest and DomainManifest documents.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe and status endpoints bind to.")
	flag.StringVar(&grpcHealthAddr, "grpc-health-bind-address", ":8082", "The address the gRPC health service binds to. Empty disables it.")
	flag.DurationVar(&reloadInterval, "reload-interval", 30*time.Second, "How often manifests are re-read.")
	flag.IntVar(&cacheSize, "lookup-cache-size", 512, "Per-unit lookup cache entries.")
	flag.StringVar(&defaultPolicy, "default-policy", "before", "Parent policy of the default domain.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	p, err := policy.Parse(defaultPolicy, resolver.DefaultReserved())
	if err != nil {
		setupLog.Error(err, "invalid default policy")
		os.Exit(1)
	}

	broadcaster := record.NewBroadcaster()
	defer broadcaster.Shutdown()
	eventLog := ctrl.Log.WithName("events")
	broadcaster.StartLogging(func(format string, args ...interface{}) {
		eventLog.V(1).Info("event", "message", fmt.Sprintf(format, args...))
	})

	reg := resolver.NewRegistry(resolver.Options{
		Logger:          ctrl.Log.WithName("loadspace"),
		Recorder:        broadcaster.NewRecorder(scheme, corev1.EventSource{Component: "loadspace"}),
		Registerer:      metrics.Registry,
		LookupCacheSize: cacheSize,
		DefaultPolicy:   &p,
	})
	applier := manifest.NewApplier(reg, ctrl.Log.WithName("manifest"))

	grpcHealth := health.NewServer()
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcHealth.SetServingStatus(resolutionService, healthpb.HealthCheckResponse_NOT_SERVING)

	var ready atomic.Bool
	var statusMu sync.Mutex
	var status *manifest.Set

	reload := func(context.Context) {
		set, err := manifest.LoadDir(manifestDir)
		if err != nil {
			setupLog.Error(err, "unable to read manifests", "dir", manifestDir)
			return
		}
		if err := applier.Apply(set); err != nil {
			setupLog.Error(err, "manifests applied with errors")
		}
		statusMu.Lock()
		status = applier.SyncStatus()
		statusMu.Unlock()
		diag := reg.Diagnostics()
		setupLog.Info("manifests applied",
			"units", len(set.Units),
			"domains", len(set.Domains),
			"unresolvedRequired", len(diag.UnresolvedRequired),
			"needsRefresh", len(diag.NeedsRefresh))
		resolution := healthpb.HealthCheckResponse_SERVING
		if len(diag.UnresolvedRequired) > 0 {
			resolution = healthpb.HealthCheckResponse_NOT_SERVING
		}
		grpcHealth.SetServingStatus(resolutionService, resolution)
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		ready.Store(true)
	}

	checks := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	readyz := &healthz.Handler{Checks: map[string]healthz.Checker{
		"manifests": func(*http.Request) error {
			if !ready.Load() {
				return errors.New("manifests not applied yet")
			}
			return nil
		},
	}}
	probeMux := http.NewServeMux()
	probeMux.Handle("/healthz", http.StripPrefix("/healthz", checks))
	probeMux.Handle("/healthz/", http.StripPrefix("/healthz", checks))
	probeMux.Handle("/readyz", http.StripPrefix("/readyz", readyz))
	probeMux.Handle("/readyz/", http.StripPrefix("/readyz", readyz))
	probeMux.HandleFunc("/diagnostics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, reg.Diagnostics())
	})
	probeMux.HandleFunc("/graph", func(w http.ResponseWriter, req *http.Request) {
		g := graph.Build(reg)
		if req.URL.Query().Get("format") == "dot" {
			w.Header().Set("Content-Type", "text/vnd.graphviz")
			_, _ = w.Write([]byte(g.DOT()))
			return
		}
		writeJSON(w, g)
	})
	probeMux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		statusMu.Lock()
		defer statusMu.Unlock()
		writeJSON(w, status)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	ctx := ctrl.SetupSignalHandler()
	servers := []*http.Server{
		{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second},
		{Addr: probeAddr, Handler: probeMux, ReadHeaderTimeout: 5 * time.Second},
	}
	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				setupLog.Error(err, "server stopped", "addr", srv.Addr)
				os.Exit(1)
			}
		}()
	}

	var grpcServer *grpc.Server
	if grpcHealthAddr != "" {
		lis, err := net.Listen("tcp", grpcHealthAddr)
		if err != nil {
			setupLog.Error(err, "unable to listen", "addr", grpcHealthAddr)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, grpcHealth)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				setupLog.Error(err, "grpc health server stopped")
			}
		}()
	}

	setupLog.Info("starting loadspace", "manifests", manifestDir, "reloadInterval", reloadInterval)
	wait.UntilWithContext(ctx, reload, reloadInterval)

	setupLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcHealth.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := reg.Shutdown(); err != nil {
		setupLog.Error(err, "problem stopping units")
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
