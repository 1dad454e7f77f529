package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/cache"
	"github.com/smartfinance/anomaly-detection-service/pkg/database"
	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/geo"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/configs"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/internal/services"
	"go.uber.org/zap"
)

// main initializes and runs the anomaly worker service.
func main() {
	// Initialize global logger with default configuration
	pkg.InitLogger("anomaly-worker")
	logger := pkg.Logger
	defer logger.Sync() // Ensure all buffered logs are flushed on exit

	// Load configuration from environment and optional config file
	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	// Create a context that can be canceled for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// History provider mirrors the api wiring: Postgres when a database is
	// configured, the stub fixture otherwise, Redis cache layered on top.
	var provider history.Provider = history.NewStubProvider()
	if cfg.PrimaryDbAddr != "" {
		db, disconnect, err := database.New(ctx, logger, database.Config{
			PrimaryDSN: cfg.PrimaryDbAddr,
			ReadDSNs:   []string{cfg.ReplicaDbAddr},
			MaxConns:   cfg.MaxDbCons,
			MinConns:   cfg.MinDbCons,
		})
		if err != nil {
			logger.Fatal("failed_to_init_db", zap.Error(err))
		}
		defer disconnect() // Ensure database connections are closed on shutdown

		if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
			logger.Fatal("failed_to_run_database_migrations", zap.Error(err))
		}
		provider = history.NewPostgresProvider(logger, db)
	}

	if cfg.RedisAddr != "" {
		redisClient, redisCloser, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Fatal("failed_to_init_redis", zap.Error(err))
		}
		defer redisCloser()
		provider = history.NewCachedProvider(logger, redisClient, provider, cfg.HistoryCacheTTL)
		logger.Info("redis client initialized successfully")
	}

	// Optional GeoIP enrichment
	var resolver geo.Resolver
	if cfg.GeoIPDbPath != "" {
		maxmind, err := geo.NewMaxMindResolver(cfg.GeoIPDbPath)
		if err != nil {
			logger.Fatal("failed_to_open_geoip_database", zap.Error(err))
		}
		defer maxmind.Close()
		resolver = maxmind
		logger.Info("geoip resolver initialized", zap.String("path", cfg.GeoIPDbPath))
	}

	// The stream path scores with the deterministic rule strategy only; the
	// statistical and demo detectors stay wired for interface completeness.
	detector := detection.NewService(detection.ServiceConfig{
		Logger:    logger,
		History:   provider,
		RuleBased: detection.NewRuleBasedDetector(nil),
		Statistical: detection.NewStatisticalDetector(detection.StatisticalDetectorConfig{
			Logger: logger,
			Store:  detection.NewFileModelStore(),
		}),
		Demo: detection.NewDemoDetector(nil),
	})

	// Verdict publisher ensures topics exist before the consumer subscribes
	publisher := services.NewVerdictPublisher(ctx, logger, cfg)

	// Set up Kafka transaction consumer
	transactionHandler := services.NewKafkaTransactionConsumer(services.KafkaTransactionConfig{
		Context:   ctx,
		Logger:    logger,
		Config:    cfg,
		Detector:  detector,
		History:   provider,
		Geo:       resolver,
		Publisher: publisher,
	})
	closeConsumer := transactionHandler.Start()

	// Prometheus scrape endpoint plus a liveness probe
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Handle graceful shutdown on SIGINT or SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	osSignal := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", osSignal.String()))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()          // Stop the consume loop and reject new evaluations
	closeConsumer()   // Close consumer, flush the DLQ producer
	publisher.Close() // Flush pending verdicts
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("service shutdown completed successfully")
}
