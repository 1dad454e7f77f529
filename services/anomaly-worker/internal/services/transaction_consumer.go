package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/geo"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	kafkautils "github.com/smartfinance/anomaly-detection-service/pkg/kafka"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/configs"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/internal/observability"
	"go.uber.org/zap"
)

// KafkaTransactionHandler defines the interface for consuming transaction events from Kafka.
type KafkaTransactionHandler interface {
	Start() func()
}

// messageProducer is the slice of kafka.Producer the DLQ path needs.
type messageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// KafkaTransactionConfig holds configuration and dependencies for the Kafka transaction consumer.
type KafkaTransactionConfig struct {
	Context   context.Context
	Logger    *zap.Logger
	Config    *configs.Config
	Detector  detection.Service
	History   history.Provider
	Geo       geo.Resolver // optional; nil disables enrichment
	Publisher VerdictPublisher

	// internal initialization
	consumer    *kafka.Consumer
	dlqProducer messageProducer
	commits     *kafkautils.CommitManager
	validate    *validator.Validate
	evalSem     chan struct{} // Semaphore to limit concurrent evaluations
	now         func() time.Time
}

// NewKafkaTransactionConsumer initializes a KafkaTransactionHandler with the provided configuration.
// It sets up the Kafka consumer, DLQ producer, commit manager and semaphore based on config values.
func NewKafkaTransactionConsumer(cfg KafkaTransactionConfig) KafkaTransactionHandler {
	// Configure Kafka consumer settings
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,       // List of Kafka broker addresses
		"group.id":           cfg.Config.KafkaConsumerGroup, // Consumer group ID for load balancing
		"auto.offset.reset":  "earliest",                    // Start reading from the earliest offset if no prior offset
		"enable.auto.commit": false,                         // Disable auto-commit for manual offset management
	}
	kafkaConsumer, err := kafka.NewConsumer(kafkaConfig)
	if err != nil {
		cfg.Logger.Fatal("failed to create kafka transaction consumer", zap.Error(err))
	}

	// Initialize DLQ producer for poison and failed messages
	dlqProducer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"acks":               "all",
		"enable.idempotence": true, // Ensure messages are not duplicated
	})
	if err != nil {
		cfg.Logger.Fatal("failed to create DLQ producer", zap.Error(err))
	}

	cfg.evalSem = make(chan struct{}, cfg.Config.MaxConcurrentEvaluations)
	cfg.consumer = kafkaConsumer
	cfg.dlqProducer = dlqProducer
	cfg.commits = kafkautils.NewCommitManager(kafkaConsumer, cfg.Logger)
	cfg.validate = validator.New()
	cfg.now = time.Now
	return &cfg
}

// Start initiates the Kafka message consumption loop and returns a cleanup function.
// The loop runs in a goroutine; evaluations run concurrently under the semaphore,
// and the commit manager keeps offset advancement contiguous.
func (k *KafkaTransactionConfig) Start() func() {
	err := k.consumer.SubscribeTopics([]string{k.Config.KafkaTransactionsTopic}, nil)
	if err != nil {
		k.Logger.Fatal("failed to subscribe to kafka topic", zap.Error(err))
	}

	k.Logger.Info("listening to kafka topic",
		zap.String("topic", k.Config.KafkaTransactionsTopic),
		zap.String("group", k.Config.KafkaConsumerGroup))

	go func() {
		for {
			msg, err := k.consumer.ReadMessage(-1)
			if err != nil {
				select {
				case <-k.Context.Done():
					return // consumer closed during shutdown
				default:
				}
				k.Logger.Error("failed to read kafka message", zap.Error(err))
				continue
			}
			observability.MessagesReceived.WithLabelValues(k.Config.KafkaTransactionsTopic).Inc()

			// Track in read order so commits resume correctly mid-partition
			k.commits.Track(msg)

			// Acquire semaphore slot, blocking if limit is reached
			k.evalSem <- struct{}{}
			go func(m *kafka.Message) {
				defer func() { <-k.evalSem }() // Release slot after processing
				k.processMessage(m)
			}(msg)
		}
	}()

	// Return cleanup function to gracefully shut down resources
	return func() {
		if p, ok := k.dlqProducer.(*kafka.Producer); ok {
			p.Flush(5000)
			p.Close()
		}
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("failed to close kafka consumer", zap.Error(err))
		}
		k.Logger.Info("kafka consumer closed successfully")
	}
}

// processMessage handles a single transaction event: decode, validate, enrich,
// evaluate, publish the verdict, then ack the offset. Poison messages go to
// the DLQ and are acked so they cannot wedge the partition.
func (k *KafkaTransactionConfig) processMessage(msg *kafka.Message) {
	select {
	case <-k.Context.Done():
		return // Exit if context is canceled
	default:
	}

	observability.InflightEvaluations.Inc()
	defer observability.InflightEvaluations.Dec()
	start := k.now()
	defer func() {
		observability.EvaluationLatency.WithLabelValues(k.Config.KafkaTransactionsTopic).Observe(time.Since(start).Seconds())
	}()

	// Decode the incoming message into a TransactionEvent struct
	var event views.TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		k.Logger.Error("failed to decode kafka message", zap.Error(err))
		k.sendToDLQ(event, "json unmarshal error", err.Error())
		k.commits.Ack(uuid.Nil, msg) // Ack to skip invalid message
		return
	}

	// Validate the decoded event structure
	if err := k.validate.Struct(&event); err != nil {
		k.Logger.Error("failed to validate transaction event", zap.Error(err))
		k.sendToDLQ(event, "validation error", err.Error())
		k.commits.Ack(uuid.Nil, msg) // Ack to skip invalid message
		return
	}

	eventID, _ := uuid.Parse(event.EventID) // uuid4-validated above
	traceID := event.EventID                // stream events trace by their event id

	tx := k.enrich(traceID, event)

	result, err := k.Detector.EvaluateRuleBased(k.Context, traceID, tx)
	if err != nil {
		observability.EvaluationsFailed.WithLabelValues(k.Config.KafkaTransactionsTopic, "evaluation_error").Inc()
		k.Logger.Error("failed to evaluate transaction, sending to DLQ",
			zap.Any(pkg.EventId, event.EventID),
			zap.Error(err))
		k.sendToDLQ(event, "evaluationError", err.Error())
		k.commits.Ack(eventID, msg)
		return
	}

	verdict := views.VerdictEvent{
		EventID:     event.EventID,
		UserID:      tx.UserID,
		Status:      verdictStatus(result.Anomaly),
		Anomaly:     result.Anomaly,
		Score:       result.Score,
		Reasons:     result.Reasons,
		Strategy:    string(detection.StrategyRuleBased),
		EvaluatedAt: k.now().UTC(),
	}
	if err := k.Publisher.PublishVerdict(verdict); err != nil {
		observability.EvaluationsFailed.WithLabelValues(k.Config.KafkaTransactionsTopic, "publish_error").Inc()
		k.Logger.Error("failed to publish verdict, sending to DLQ",
			zap.Any(pkg.EventId, event.EventID),
			zap.Error(err))
		k.sendToDLQ(event, "publishError", err.Error())
		k.commits.Ack(eventID, msg)
		return
	}

	observability.VerdictsPublished.WithLabelValues(k.Config.KafkaVerdictsTopic, string(verdict.Status)).Inc()
	k.commits.Ack(eventID, msg)
	k.Logger.Info("transaction evaluated",
		zap.Any(pkg.EventId, event.EventID),
		zap.String("status", string(verdict.Status)),
		zap.Float64("score", verdict.Score))
}

// enrich applies GeoIP enrichment before scoring. A transaction whose source
// country resolves differently from the user's home country is forced
// international; an explicitly set flag is never cleared.
func (k *KafkaTransactionConfig) enrich(traceID string, event views.TransactionEvent) views.Transaction {
	tx := event.Transaction
	if k.Geo == nil || tx.IsInternational {
		return tx
	}

	ip := event.SourceIP
	if v, ok := tx.Meta["ip"].(string); ok && v != "" {
		ip = v
	}
	if ip == "" {
		return tx
	}

	country, err := k.Geo.Country(ip)
	if err != nil {
		k.Logger.Warn("geoip lookup failed",
			zap.String(pkg.TraceId, traceID),
			zap.Error(err))
		return tx
	}
	if country == "" {
		return tx // address not in the database
	}

	profile, err := k.History.Get(k.Context, traceID, tx.UserID)
	if err != nil {
		k.Logger.Warn("history lookup failed during enrichment",
			zap.String(pkg.TraceId, traceID),
			zap.Error(err))
		return tx
	}
	if profile.HomeCountry != "" && country != profile.HomeCountry {
		tx.IsInternational = true
	}
	return tx
}

// sendToDLQ sends a failed event to the Dead Letter Queue with context.
func (k *KafkaTransactionConfig) sendToDLQ(event views.TransactionEvent, reason, errMsg string) {
	payload := map[string]any{
		"event":         event,
		"failureReason": reason,
		"error":         errMsg,
		"failedAt":      k.now().UTC().Format(time.RFC3339Nano),
	}

	b, err := json.Marshal(payload)
	if err != nil {
		k.Logger.Error("failed to marshal DLQ payload",
			zap.Any(pkg.EventId, event.EventID),
			zap.Error(err))
		return
	}

	err = k.dlqProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.Config.KafkaDLQTopic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.EventID),
		Value: b,
	}, nil)
	if err != nil {
		k.Logger.Error("failed to produce DLQ message",
			zap.Any(pkg.EventId, event.EventID),
			zap.Error(err))
		return
	}
	observability.DLQPublished.WithLabelValues(k.Config.KafkaDLQTopic, reason).Inc()
	k.Logger.Info("sent to transactions DLQ",
		zap.Any(pkg.EventId, event.EventID),
		zap.String("reason", reason))
}

func verdictStatus(anomaly bool) pkg.VerdictStatus {
	if anomaly {
		return pkg.VerdictStatusSuspect
	}
	return pkg.VerdictStatusClean
}
