package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/cache"
	"github.com/smartfinance/anomaly-detection-service/pkg/database"
	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	middleware "github.com/smartfinance/anomaly-detection-service/pkg/middlewares"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-api/configs"
	_ "github.com/smartfinance/anomaly-detection-service/services/anomaly-api/docs"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-api/internal/handlers"
	"github.com/swaggo/files"
	"github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	// Load config
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	closers := make([]func(), 0, 2)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// History provider: Postgres when a database is configured, the built-in
	// stub profile otherwise.
	var provider history.Provider = history.NewStubProvider()
	if cfg.PrimaryDbAddr != "" {
		dbConfig := database.Config{
			PrimaryDSN: cfg.PrimaryDbAddr,
			ReadDSNs:   []string{cfg.ReplicaDbAddr},
			MaxConns:   cfg.MaxDbCons,
			MinConns:   cfg.MinDbCons,
		}
		db, disconnect, err := database.New(ctx, logger, dbConfig)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, disconnect)

		// Run migrations on primary
		if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
			cleanup()
			return nil, nil, err
		}
		provider = history.NewPostgresProvider(logger, db)
	}

	// Redis backs the history read-through cache and the scorer's global
	// rate limit counter.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, closeRedis, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, closeRedis)
		redisClient = client
		provider = history.NewCachedProvider(logger, client, provider, cfg.HistoryCacheTTL)
	}

	// Setup dependencies
	baseHandler := handlers.NewBaseHandler(logger)
	anomalyHandler := handlers.NewAnomalyHandler(logger, NewDetectionService(logger, cfg, provider, redisClient))

	// Router
	r := gin.Default()

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	anomalyHandler.RegisterRoutes(api)
	baseHandler.RegisterRoutes(r)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	return srv, cleanup, nil
}

// NewDetectionService assembles the three strategies around a shared history
// provider. The worker mirrors this wiring so both deployables score alike.
func NewDetectionService(logger *zap.Logger, cfg *configs.Config, provider history.Provider, redisClient *redis.Client) detection.Service {
	store, location := modelBackend(logger, cfg, redisClient)
	return detection.NewService(detection.ServiceConfig{
		Logger:    logger,
		History:   provider,
		RuleBased: detection.NewRuleBasedDetector(nil),
		Statistical: detection.NewStatisticalDetector(detection.StatisticalDetectorConfig{
			Logger:        logger,
			Store:         store,
			ModelLocation: location,
		}),
		Demo: detection.NewDemoDetector(nil),
	})
}

// modelBackend picks the classifier source. A configured scorer sidecar wins
// over a local artifact; with neither, loads fail and the statistical route
// reports the model unavailable until one appears.
func modelBackend(logger *zap.Logger, cfg *configs.Config, redisClient *redis.Client) (detection.ModelStore, string) {
	if cfg.ScorerServiceAddr != "" {
		limiter := pkg.NewDistributedLimiter(redisClient, "global:scorer_rate",
			cfg.ScorerRateLimitPerSec, cfg.ScorerRequestBurst, time.Minute, logger)
		return detection.NewRemoteModelStore(logger, utils.NewHTTPClient(), limiter, cfg.ScorerMaxThrottleWait), cfg.ScorerServiceAddr
	}
	return detection.NewFileModelStore(), cfg.ModelPath
}
