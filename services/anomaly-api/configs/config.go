package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for anomaly-api. Database, Redis
// and scorer addresses are optional: without a database the stub history
// profile is served, without Redis caching and global rate limiting are
// skipped, and without a scorer or model path the statistical route reports
// the model as unavailable.
type Config struct {
	Port          string `mapstructure:"PORT" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`

	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	HistoryCacheTTL time.Duration `mapstructure:"HISTORY_CACHE_TTL" validate:"required"`

	// ModelPath points at a local JSON artifact; ScorerServiceAddr takes
	// precedence and switches the statistical strategy to the HTTP sidecar.
	ModelPath             string        `mapstructure:"MODEL_PATH"`
	ScorerServiceAddr     string        `mapstructure:"SCORER_SERVICE_ADDR"`
	ScorerRateLimitPerSec int           `mapstructure:"SCORER_RATE_LIMIT_PER_SEC" validate:"min=1"`
	ScorerRequestBurst    int           `mapstructure:"SCORER_REQUEST_BURST" validate:"min=1"`
	ScorerMaxThrottleWait time.Duration `mapstructure:"SCORER_MAX_THROTTLE_WAIT" validate:"required"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("HISTORY_CACHE_TTL", "5m")
	viper.SetDefault("SCORER_RATE_LIMIT_PER_SEC", "50")
	viper.SetDefault("SCORER_REQUEST_BURST", "10")
	viper.SetDefault("SCORER_MAX_THROTTLE_WAIT", "200ms")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running in test mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running in development mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/anomaly-api/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
