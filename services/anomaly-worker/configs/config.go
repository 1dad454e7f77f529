package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smartfinance/anomaly-detection-service/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for anomaly-worker. Database,
// Redis and GeoIP settings are optional: without a database the stub
// history profile is used, without Redis profile lookups go uncached, and
// without a GeoIP database transactions keep whatever is_international flag
// they arrived with.
type Config struct {
	MetricsAddr   string `mapstructure:"METRICS_ADDR" validate:"required"`
	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`

	KafkaPartition           uint32        `mapstructure:"KAFKA_PARTITION" validate:"min=1"`
	KafkaTransactionsTopic   string        `mapstructure:"KAFKA_TRANSACTIONS_TOPIC" validate:"required"`
	KafkaVerdictsTopic       string        `mapstructure:"KAFKA_VERDICTS_TOPIC" validate:"required"`
	KafkaDLQTopic            string        `mapstructure:"KAFKA_DLQ_TOPIC" validate:"required"`
	KafkaVerdictsRetention   time.Duration `mapstructure:"KAFKA_VERDICTS_RETENTION" validate:"required"`
	KafkaDLQRetention        time.Duration `mapstructure:"KAFKA_DLQ_RETENTION" validate:"required"`
	KafkaConsumerGroup       string        `mapstructure:"KAFKA_CONSUMER_GROUP" validate:"required"`
	MaxConcurrentEvaluations int           `mapstructure:"MAX_CONCURRENT_EVALUATIONS" validate:"min=1"`

	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	HistoryCacheTTL time.Duration `mapstructure:"HISTORY_CACHE_TTL" validate:"required"`

	GeoIPDbPath string `mapstructure:"GEOIP_DB_PATH"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("METRICS_ADDR", ":9091")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_TRANSACTIONS_TOPIC", "transactions")
	viper.SetDefault("KAFKA_VERDICTS_TOPIC", "transaction-verdicts")
	viper.SetDefault("KAFKA_DLQ_TOPIC", "transactions-dlq")
	viper.SetDefault("KAFKA_VERDICTS_RETENTION", "168h")
	viper.SetDefault("KAFKA_DLQ_RETENTION", "336h")
	viper.SetDefault("KAFKA_CONSUMER_GROUP", "anomaly-worker")
	viper.SetDefault("MAX_CONCURRENT_EVALUATIONS", "32")
	viper.SetDefault("HISTORY_CACHE_TTL", "5m")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/anomaly-worker/configs")
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
