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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/orbit-tracker/internal/config"
	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/httpapi"
	"github.com/signalsfoundry/orbit-tracker/internal/ingest"
	"github.com/signalsfoundry/orbit-tracker/internal/logging"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/internal/storage"
	"github.com/signalsfoundry/orbit-tracker/internal/storage/postgres"
	"github.com/signalsfoundry/orbit-tracker/internal/storage/rediscache"
	"github.com/signalsfoundry/orbit-tracker/kb"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, envErr := config.FromEnv()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := context.Background()

	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(2)
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "orbit tracker exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component, serves until ctx is cancelled and then shuts
// down in reverse order.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := observability.NewTrackerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	jobMetrics, err := observability.NewJobCollector(reg)
	if err != nil {
		return fmt.Errorf("init job metrics: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		ingestOpts = []ingest.Option{
			ingest.WithLogger(log),
			ingest.WithMetrics(collector),
			ingest.WithCredentials(cfg.Feed.Credentials),
			ingest.WithFeedTimeout(cfg.Feed.Timeout),
		}
		queryOpts = []query.Option{
			query.WithLogger(log),
			query.WithMetrics(collector),
			query.WithWorkers(cfg.Workers),
		}
	)

	if cfg.Storage.RedisAddr != "" {
		mirror, err := rediscache.Dial(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisKey)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer mirror.Close()
		ingestOpts = append(ingestOpts, ingest.WithLatestMirror(mirror))
		queryOpts = append(queryOpts, query.WithLatestCache(mirror))
		log.Info(ctx, "latest-state mirror enabled", logging.String("addr", cfg.Storage.RedisAddr))
	}

	var health *observability.HealthServer
	if cfg.HealthAddr != "" {
		health = observability.NewHealthServer(collector, log)
		ingestOpts = append(ingestOpts, ingest.WithFeedStatus(health))
		healthLis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen health: %w", err)
		}
		go func() {
			if err := health.Serve(healthLis); err != nil {
				log.Warn(context.Background(), "gRPC health server exited", logging.Err(err))
			}
		}()
		defer health.Stop()
	}

	client := feed.NewClient(
		feed.WithBaseURL(cfg.Feed.BaseURL),
		feed.WithQueryPath(cfg.Feed.QueryPath),
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithLogger(log),
	)
	orchestrator := ingest.New(store, ingestOpts...)
	svc := query.NewService(store, queryOpts...)

	hub := httpapi.NewHub(log)
	defer hub.Close()
	if memory, ok := store.(*kb.KnowledgeBase); ok {
		unsubscribe := memory.Subscribe(hub.PublishEvent)
		defer unsubscribe()
	}

	apiOpts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithMetrics(collector),
		httpapi.WithHub(hub),
	}
	if cfg.Feed.Credentials.Valid() {
		apiOpts = append(apiOpts, httpapi.WithIngester(orchestrator, client))
	}
	api := httpapi.New(svc, apiOpts...)

	httpSrv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving HTTP API", logging.String("addr", lis.Addr().String()))
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	var jobs []job
	if cfg.IngestionEnabled() {
		jobs = append(jobs, ingestJob(orchestrator, client, cfg, log))
	}
	if cfg.FeedbackInterval > 0 {
		jobs = append(jobs, feedbackJob(svc, cfg.FeedbackInterval, log))
	}
	if cfg.StreamInterval > 0 {
		jobs = append(jobs, streamJob(hub, svc, cfg.StreamInterval))
	}
	jobsCtx, stopJobs := context.WithCancel(ctx)
	jobsDone := startJobs(jobsCtx, timectrl.SystemClock{}, jobs, jobMetrics, log)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down orbit tracker")
	case runErr = <-serveErr:
		log.Error(context.Background(), "HTTP server failed", logging.Err(runErr))
	}

	stopJobs()
	for _, done := range jobsDone {
		<-done
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown incomplete", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// openStore returns the configured record store and its release function.
func openStore(ctx context.Context, cfg config.Config, log logging.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info(ctx, "using postgres storage")
		return pg, func() { _ = pg.Close() }, nil
	default:
		log.Info(ctx, "using in-memory storage")
		return kb.NewKnowledgeBase(), func() {}, nil
	}
}

func serveMetrics(addr string, collector *observability.TrackerCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
