package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	kafkautils "github.com/smartfinance/anomaly-detection-service/pkg/kafka"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/configs"
	"go.uber.org/zap"
)

type VerdictPublisher interface {
	PublishVerdict(event views.VerdictEvent) error
	Close()
}

type KafkaVerdictPublisher struct {
	logger   *zap.Logger
	producer *kafka.Producer
	cnf      *configs.Config
}

// NewVerdictPublisher ensures the worker's topics exist and builds the
// idempotent producer for the verdicts stream. The transactions topic is
// created here too so a fresh broker works before any upstream producer
// has started.
func NewVerdictPublisher(ctx context.Context, logger *zap.Logger, cnf *configs.Config) VerdictPublisher {
	topicConfig := kafkautils.KafkaConfig{
		BootstrapServers: cnf.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			{
				Topic:             cnf.KafkaTransactionsTopic,
				NumPartitions:     int(cnf.KafkaPartition),
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
				},
			},
			{
				Topic:             cnf.KafkaVerdictsTopic,
				NumPartitions:     int(cnf.KafkaPartition),
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
					"retention.ms":   fmt.Sprintf("%d", cnf.KafkaVerdictsRetention.Milliseconds()),
				},
			},
			{
				Topic:             cnf.KafkaDLQTopic,
				NumPartitions:     1, // DLQ is low-volume, inspected manually
				ReplicationFactor: 1,
				Config: map[string]string{
					"cleanup.policy": "delete",
					"retention.ms":   fmt.Sprintf("%d", cnf.KafkaDLQRetention.Milliseconds()),
				},
			},
		},
	}
	if err := kafkautils.InitKafkaTopics(ctx, logger, topicConfig); err != nil {
		logger.Fatal("failed to initialize kafka topics", zap.Error(err))
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cnf.KafkaBrokers, // Kafka broker(s)
		"acks":               "all",            // Wait for all replicas
		"enable.idempotence": "true",           // Ensure messages are not sent twice
		"retries":            "1",              // Built-in retry mechanism
	})
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	logger.Info("kafka producer created successfully", zap.String("brokers", cnf.KafkaBrokers))
	go handleDeliveryReports(logger, p) // Async error handling
	return &KafkaVerdictPublisher{
		logger:   logger,
		cnf:      cnf,
		producer: p,
	}
}

func (k KafkaVerdictPublisher) PublishVerdict(event views.VerdictEvent) error {
	// Serialize the verdict payload to JSON for Kafka transport
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Deterministic partitioning by user ID so one user's verdicts stay ordered
	partition := int32(xxhash.Sum64String(event.UserID) % uint64(k.cnf.KafkaPartition))

	// Produce the message asynchronously; delivery results are handled by handleDeliveryReports
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.cnf.KafkaVerdictsTopic,
			Partition: partition,
		},
		Key:   []byte(event.EventID), // verdicts are re-keyed by source event for downstream dedupe
		Value: msgBytes,
	}, nil)
}

func (k KafkaVerdictPublisher) Close() {
	k.producer.Flush(5000)
	k.producer.Close()
}

func handleDeliveryReports(logger *zap.Logger, p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logger.Error("failed to publish message", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}
