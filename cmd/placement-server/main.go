package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/solar-placement/internal/api"
	"github.com/signalsfoundry/solar-placement/internal/audit"
	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/observability"
	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/internal/store"
	"github.com/signalsfoundry/solar-placement/internal/surface"
	"github.com/signalsfoundry/solar-placement/kb"
)

// Config is the server's runtime configuration.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	// DatabasePath enables run history when non-empty.
	DatabasePath   string
	Placement      placement.Config
	AuditTolerance float64
}

func main() {
	log := logging.NewFromEnv()
	ctx := context.Background()

	base, err := placement.ConfigFromEnv()
	if err != nil {
		log.Error(ctx, "invalid placement environment", logging.Err(err))
		os.Exit(1)
	}

	cfg := Config{Placement: base}
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the placement gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics; empty disables it")
	flag.StringVar(&cfg.DatabasePath, "db", "", "SQLite file recording layout runs; empty disables history")
	flag.Float64Var(&cfg.Placement.VisibilityOffsetMeters, "offset", base.VisibilityOffsetMeters, "visibility offset added above the surface, metres")
	flag.Float64Var(&cfg.Placement.Panel.Width, "panel-width", base.Panel.Width, "panel width, metres")
	flag.Float64Var(&cfg.Placement.Panel.Height, "panel-height", base.Panel.Height, "panel height (long edge), metres")
	flag.Float64Var(&cfg.Placement.Panel.Thickness, "panel-thickness", base.Panel.Thickness, "panel thickness, metres")
	flag.DurationVar(&cfg.Placement.SettleDelay, "settle-delay", base.SettleDelay, "time the surface host needs to load tiles after a fly-to")
	flag.DurationVar(&cfg.Placement.SampleTimeout, "sample-timeout", base.SampleTimeout, "bound on one surface query; negative disables")
	flag.Float64Var(&cfg.AuditTolerance, "audit-tolerance", audit.DefaultTolerance, "overlap depth ignored by audited requests, metres")
	flag.Parse()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "placement server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then drains in-flight RPCs.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	pcfg := cfg.Placement.WithDefaults()
	if err := pcfg.Validate(); err != nil {
		return err
	}

	tracingCfg, err := observability.TracingConfigFromEnv()
	if err != nil {
		return err
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	placementMetrics, err := observability.NewPlacementCollector(reg)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, reg, log)

	poses := kb.NewPoseStore()
	unsubscribe := poses.Subscribe(func(ev kb.Event) {
		switch ev.Type {
		case kb.EventPosesPublished:
			log.Info(context.Background(), "pose set published",
				logging.LayoutID(ev.Set.LayoutID),
				logging.Generation(ev.Set.Generation),
				logging.Int("panels", len(ev.Set.Panels)),
			)
		case kb.EventPosesCleared:
			log.Info(context.Background(), "pose set cleared", logging.LayoutID(ev.Set.LayoutID))
		}
	})
	defer unsubscribe()

	host := surface.NewHost(pcfg.SettleDelay, log)
	opts := []placement.Option{
		placement.WithSceneHost(host),
		placement.WithSettler(host.Signal),
		placement.WithMetrics(placementMetrics),
	}

	if cfg.DatabasePath != "" {
		st, err := store.Open(cfg.DatabasePath, log)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, placement.WithRecorder(st))
		log.Info(ctx, "recording layout runs", logging.String("path", cfg.DatabasePath))
	}

	// Each request is sampled against its own roof; the engine's default
	// surface is empty and only answers requests without segments.
	engine := placement.NewEngine(surface.NewPlanar(nil), poses, pcfg, log, opts...)
	svc := api.NewService(engine, poses, log,
		api.WithSurfaceBuilder(surface.ForRoof),
		api.WithAuditTolerance(cfg.AuditTolerance),
	)
	server := api.NewServer(svc, log, rpcMetrics)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting placement gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stopMetrics(metricsSrv)
			return err
		}
	}

	log.Info(context.Background(), "shutting down placement server")
	server.GracefulStop()
	stopMetrics(metricsSrv)
	return nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func stopMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
