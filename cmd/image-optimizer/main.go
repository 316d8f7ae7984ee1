package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/pixelforge/image-optimizer/internal/api/handlers/image"
	"github.com/pixelforge/image-optimizer/internal/api/router"
	"github.com/pixelforge/image-optimizer/internal/api/server"
	"github.com/pixelforge/image-optimizer/internal/cache"
	"github.com/pixelforge/image-optimizer/internal/config"
	"github.com/pixelforge/image-optimizer/internal/infra/kafka/consumer"
	"github.com/pixelforge/image-optimizer/internal/infra/kafka/producer"
	imagemsg "github.com/pixelforge/image-optimizer/internal/kafka/handlers/image"
	"github.com/pixelforge/image-optimizer/internal/metrics"
	"github.com/pixelforge/image-optimizer/internal/optimizer"
	imagerepo "github.com/pixelforge/image-optimizer/internal/repository/image"
	imagesvc "github.com/pixelforge/image-optimizer/internal/service/image"
	"github.com/pixelforge/image-optimizer/internal/storage/minio"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize the origin store (MinIO).
	storage, err := minio.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.BucketName, cfg.Storage.UseSSL)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Pipeline: result cache, counters, orchestrator and periodic cleanup.
	resultCache := cache.New(cfg.Optimizer.CacheMaxBytes, optimizer.DiskLoader(cfg.Optimizer.OutputDir))
	counters := metrics.New()
	opt := optimizer.New(cfg.Optimizer.OutputDir, cfg.Optimizer.CDNBaseURL, resultCache, counters)

	cleaner := optimizer.NewCleaner(opt, cfg.Optimizer.CleanupInterval, cfg.Optimizer.CleanupMaxAge)
	cleaner.Start()

	prometheus.MustRegister(metrics.NewCollector(counters, resultCache.Stats))

	// Repository, producer and service layer.
	repo := imagerepo.NewRepository(db)
	p := producer.New(&cfg.Kafka, strategy)
	service := imagesvc.NewService(storage, p, repo, opt, cfg.Optimizer.Workers, cfg.Optimizer.ScratchDir)
	service.Start(ctx)

	// Kafka message handler for uploaded images.
	uploadedHandler := imagemsg.NewUploadedHandler(service)

	// HTTP handler for image routes.
	imgHandler := image.NewHandler(service, counters)

	// Kafka consumer for processing uploaded image events.
	c := consumer.New(&cfg.Kafka, strategy, uploadedHandler)

	// Start Kafka consumer in a separate goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// HTTP server: API routes plus the Prometheus endpoint.
	r := router.Setup(imgHandler)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", r)

	s := server.New(cfg.Server.HTTPPort, mux)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Drain background jobs and stop the cleanup ticker.
	service.Stop()
	cleaner.Stop()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer and consumer clients.
	if err = p.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
	if err = c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}
}
