package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/alerting"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/api"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/config"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/health"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/kafka"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/liveness"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/logging"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/mailbox"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/metrics"
	natsclient "github.com/devghori1264/aerophoenix/fleetwatch/internal/nats"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/notifier"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/storage"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	serviceName     = "fleetwatch"
	inMemoryDB      = ":memory:"
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Badger DB path (:memory: for an in-memory store)")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fleetwatch exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.TracingExporter, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open badger store: %w", err)
	}
	defer store.Close()

	pub, closePub := openPublisher(ctx, cfg, logger)
	defer closePub()

	gate, err := cfg.BusinessHours()
	if err != nil {
		return err
	}

	m := metrics.New()
	mb := mailbox.New()
	m.TrackPendingCommands(mb.Len)
	emitter := events.NewEmitter(pub)

	engine := alerting.NewEngine(store, newNotifier(cfg, logger), emitter, m, alerting.Config{
		DedupeWindow: cfg.AlertDedupeWindow,
		Recipient:    cfg.AlertRecipient,
	}, logger)
	evaluator := health.NewEvaluator(store, engine, health.Config{
		CPUThreshold: cfg.CPUThresholdPercent,
		Window:       cfg.CPUWindow,
		MinSamples:   cfg.CPUMinSamples,
	}, logger)
	svc := server.NewService(store, mb, evaluator, engine, emitter, m, server.Config{
		SampleRetention: cfg.SampleRetention,
	}, logger)
	monitor := liveness.NewMonitor(store, gate, engine, emitter, m, cfg.OfflineThreshold, cfg.SweepInterval, logger)

	grpcServer := grpc.NewServer()
	svc.RegisterGRPC(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHTTPHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	api.RegisterMetrics(metricsMux, m)
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("fleetwatch starting",
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("events", cfg.EventsBackend),
		zap.String("business_hours", gate.String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return serveHTTP(httpServer, "HTTP server", logger)
	})
	g.Go(func() error {
		return serveHTTP(metricsServer, "metrics server", logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		grpcServer.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		if err := metricsServer.Shutdown(sctx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(srv *http.Server, name string, logger *zap.Logger) error {
	logger.Info(name+" listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func openStore(path string) (*storage.BadgerStore, error) {
	if path == inMemoryDB {
		return storage.NewInMemoryStore()
	}
	return storage.NewBadgerStore(path)
}

// openPublisher connects the configured events backend. A backend that cannot
// be reached leaves events disabled; heartbeats and alerts do not depend on it.
func openPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, func()) {
	noop := func() {}
	switch cfg.EventsBackend {
	case config.EventsNATS:
		p, err := natsclient.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("nats unavailable, real-time events disabled", zap.String("url", cfg.NATSURL), zap.Error(err))
			return nil, noop
		}
		return p, p.Close
	case config.EventsKafka:
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := kafka.NewPublisher(pctx, cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Warn("kafka unavailable, real-time events disabled", zap.String("brokers", cfg.KafkaBrokers), zap.Error(err))
			return nil, noop
		}
		return p, p.Close
	default:
		return nil, noop
	}
}

func newNotifier(cfg *config.Config, logger *zap.Logger) notifier.Notifier {
	if cfg.SlackWebhookURL == "" {
		return notifier.NewLogNotifier(logger)
	}
	n, err := notifier.NewSlackNotifier(cfg.SlackWebhookURL)
	if err != nil {
		logger.Warn("slack notifier disabled", zap.Error(err))
		return notifier.NewLogNotifier(logger)
	}
	return n
}
