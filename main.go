package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"docgen/config"
	"docgen/server"
	"docgen/services"
	"docgen/store"
	"docgen/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	slog.Info("starting document conversion service")

	cfg := config.Load()

	// The engine must be usable before we accept a single request;
	// otherwise every admitted job is doomed to fail.
	engine := services.NewSofficeEngine(cfg.SofficeBinary)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), services.ProbeTimeout)
	err := engine.Probe(probeCtx)
	probeCancel()
	if err != nil {
		slog.Error("engine unavailable, refusing to start", "error", err)
		os.Exit(1)
	}
	slog.Info("engine probe succeeded", "binary", cfg.SofficeBinary)

	if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
		slog.Error("cannot create work directory", "dir", cfg.WorkDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional sinks: Redis status mirror, Postgres audit trail, S3
	// artifact backing. Each is enabled by its own configuration and the
	// service runs fully in-memory without them.
	var status worker.StatusPublisher
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		status = services.NewStatusService(redisClient, cfg.RedisPrefix, cfg.RedisStatusTTL)
		slog.Info("Redis status mirror enabled", "addr", cfg.RedisAddr)
	}

	var audit worker.TransitionRecorder
	if cfg.DatabaseURL != "" {
		dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbSvc.Close()
		if err := dbSvc.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		audit = dbSvc
		slog.Info("Postgres audit trail enabled")
	}

	var backend store.DurableBackend
	if cfg.S3Bucket != "" {
		backend = services.NewS3Service(cfg)
		slog.Info("S3 artifact backing enabled", "bucket", cfg.S3Bucket)
	}

	results := store.NewResultStore(cfg.ResultTTL, backend)
	go results.Sweep(ctx, cfg.SweepInterval)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pool := worker.NewPool(worker.Options{
		Engine:     engine,
		Store:      results,
		WorkRoot:   cfg.WorkDir,
		Workers:    cfg.WorkerCount,
		QueueDepth: cfg.QueueDepth,
		Timeout:    cfg.ConversionTimeout,
		Metrics:    worker.NewMetrics(registry),
		Audit:      audit,
		Status:     status,
	})
	pool.Start(ctx)

	api := server.New(pool, results, registry, cfg.MaxUploadBytes)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		slog.Warn("pool shutdown incomplete", "error", err)
	}
	cancel()

	slog.Info("conversion service stopped")
}
