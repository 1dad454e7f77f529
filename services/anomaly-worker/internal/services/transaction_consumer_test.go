package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"github.com/smartfinance/anomaly-detection-service/pkg/detection"
	"github.com/smartfinance/anomaly-detection-service/pkg/history"
	kafkautils "github.com/smartfinance/anomaly-detection-service/pkg/kafka"
	"github.com/smartfinance/anomaly-detection-service/pkg/views"
	"github.com/smartfinance/anomaly-detection-service/services/anomaly-worker/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	events []views.VerdictEvent
	err    error
}

func (f *fakePublisher) PublishVerdict(e views.VerdictEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() {}

type fakeProducer struct {
	messages []*kafka.Message
	err      error
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type fakeCommitter struct {
	commits [][]kafka.TopicPartition
	err     error
}

func (f *fakeCommitter) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, offsets)
	return offsets, nil
}

type fakeGeo struct {
	countries map[string]string
}

func (f *fakeGeo) Country(ip string) (string, error) {
	c, ok := f.countries[ip]
	if !ok {
		return "", fmt.Errorf("no record for %s", ip)
	}
	return c, nil
}

func (f *fakeGeo) Close() error { return nil }

type consumerFixture struct {
	handler   *KafkaTransactionConfig
	publisher *fakePublisher
	dlq       *fakeProducer
	committer *fakeCommitter
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	logger := zap.NewNop()

	publisher := &fakePublisher{}
	dlq := &fakeProducer{}
	committer := &fakeCommitter{}

	svc := detection.NewService(detection.ServiceConfig{
		Logger:    logger,
		History:   history.NewStubProvider(),
		RuleBased: detection.NewRuleBasedDetector(nil),
	})

	handler := &KafkaTransactionConfig{
		Context: context.Background(),
		Logger:  logger,
		Config: &configs.Config{
			KafkaTransactionsTopic: "transactions",
			KafkaVerdictsTopic:     "transaction-verdicts",
			KafkaDLQTopic:          "transactions-dlq",
		},
		Detector:    svc,
		History:     history.NewStubProvider(),
		Publisher:   publisher,
		dlqProducer: dlq,
		commits:     kafkautils.NewCommitManager(committer, logger),
		validate:    validator.New(),
		now:         func() time.Time { return time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC) },
	}
	return &consumerFixture{handler: handler, publisher: publisher, dlq: dlq, committer: committer}
}

func messageWith(t *testing.T, value []byte, offset int64) *kafka.Message {
	t.Helper()
	topic := "transactions"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Value:          value,
	}
}

// quietEvent builds a transaction that trips none of the rules against the
// stub history fixture.
func quietEvent(t *testing.T) views.TransactionEvent {
	t.Helper()
	return views.TransactionEvent{
		EventID: uuid.New().String(),
		Transaction: views.Transaction{
			UserID:    "user_7",
			Amount:    250,
			Timestamp: "2024-03-12T14:05:00Z",
			Merchant:  "Zomato",
		},
		ReceivedAt: time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC),
	}
}

func TestProcessMessage_ValidEventPublishesVerdictAndCommits(t *testing.T) {
	fx := newConsumerFixture(t)
	event := quietEvent(t)
	body, err := json.Marshal(event)
	require.NoError(t, err)

	fx.handler.processMessage(messageWith(t, body, 5))

	require.Len(t, fx.publisher.events, 1)
	verdict := fx.publisher.events[0]
	assert.Equal(t, event.EventID, verdict.EventID)
	assert.Equal(t, "user_7", verdict.UserID)
	assert.Equal(t, pkg.VerdictStatusClean, verdict.Status)
	assert.False(t, verdict.Anomaly)
	assert.Zero(t, verdict.Score)
	assert.Empty(t, verdict.Reasons)
	assert.Equal(t, string(detection.StrategyRuleBased), verdict.Strategy)
	assert.Equal(t, time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC), verdict.EvaluatedAt)

	assert.Empty(t, fx.dlq.messages)
	require.Len(t, fx.committer.commits, 1)
	assert.Equal(t, kafka.Offset(6), fx.committer.commits[0][0].Offset) // next-to-read
}

func TestProcessMessage_GarbageJSONGoesToDLQAndCommits(t *testing.T) {
	fx := newConsumerFixture(t)

	fx.handler.processMessage(messageWith(t, []byte("{not json"), 0))

	assert.Empty(t, fx.publisher.events)
	require.Len(t, fx.dlq.messages, 1)
	assert.Equal(t, "transactions-dlq", *fx.dlq.messages[0].TopicPartition.Topic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(fx.dlq.messages[0].Value, &payload))
	assert.Equal(t, "json unmarshal error", payload["failureReason"])

	require.Len(t, fx.committer.commits, 1) // poison message skipped, not wedged
	assert.Equal(t, kafka.Offset(1), fx.committer.commits[0][0].Offset)
}

func TestProcessMessage_InvalidEventGoesToDLQAndCommits(t *testing.T) {
	fx := newConsumerFixture(t)
	event := quietEvent(t)
	event.EventID = "not-a-uuid"
	body, err := json.Marshal(event)
	require.NoError(t, err)

	fx.handler.processMessage(messageWith(t, body, 3))

	assert.Empty(t, fx.publisher.events)
	require.Len(t, fx.dlq.messages, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(fx.dlq.messages[0].Value, &payload))
	assert.Equal(t, "validation error", payload["failureReason"])

	require.Len(t, fx.committer.commits, 1)
	assert.Equal(t, kafka.Offset(4), fx.committer.commits[0][0].Offset)
}

func TestProcessMessage_PublishFailureGoesToDLQAndCommits(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.publisher.err = errors.New("broker down")
	event := quietEvent(t)
	body, err := json.Marshal(event)
	require.NoError(t, err)

	fx.handler.processMessage(messageWith(t, body, 9))

	require.Len(t, fx.dlq.messages, 1)
	assert.Equal(t, []byte(event.EventID), fx.dlq.messages[0].Key)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(fx.dlq.messages[0].Value, &payload))
	assert.Equal(t, "publishError", payload["failureReason"])

	require.Len(t, fx.committer.commits, 1)
	assert.Equal(t, kafka.Offset(10), fx.committer.commits[0][0].Offset)
}

func TestProcessMessage_GeoMismatchForcesInternational(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.handler.Geo = &fakeGeo{countries: map[string]string{"203.0.113.7": "US"}}

	// Amount above the international floor but below every other threshold,
	// so the verdict hinges entirely on the enrichment.
	event := quietEvent(t)
	event.Transaction.Amount = 1040
	event.Transaction.Meta = map[string]interface{}{"ip": "203.0.113.7"}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	fx.handler.processMessage(messageWith(t, body, 0))

	require.Len(t, fx.publisher.events, 1)
	verdict := fx.publisher.events[0]
	assert.Equal(t, pkg.VerdictStatusSuspect, verdict.Status)
	assert.True(t, verdict.Anomaly)
	assert.Equal(t, []string{detection.ReasonInternationalHighVal}, verdict.Reasons)
	assert.InDelta(t, 0.2, verdict.Score, 1e-9)
}

func TestEnrich_HomeCountryMatchLeavesFlagAlone(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.handler.Geo = &fakeGeo{countries: map[string]string{"198.51.100.2": "IN"}}

	event := quietEvent(t)
	event.SourceIP = "198.51.100.2"

	tx := fx.handler.enrich(event.EventID, event)
	assert.False(t, tx.IsInternational)
}

func TestEnrich_ExplicitFlagIsNeverCleared(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.handler.Geo = &fakeGeo{countries: map[string]string{"198.51.100.2": "IN"}}

	event := quietEvent(t)
	event.SourceIP = "198.51.100.2" // resolves to the home country
	event.Transaction.IsInternational = true

	tx := fx.handler.enrich(event.EventID, event)
	assert.True(t, tx.IsInternational)
}

func TestEnrich_ResolverErrorLeavesTransactionUntouched(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.handler.Geo = &fakeGeo{countries: map[string]string{}} // every lookup errors

	event := quietEvent(t)
	event.SourceIP = "203.0.113.9"

	tx := fx.handler.enrich(event.EventID, event)
	assert.False(t, tx.IsInternational)
	assert.Equal(t, event.Transaction, tx)
}

func TestEnrich_MetaIPTakesPrecedenceOverSourceIP(t *testing.T) {
	fx := newConsumerFixture(t)
	fx.handler.Geo = &fakeGeo{countries: map[string]string{
		"198.51.100.2": "IN",
		"203.0.113.7":  "GB",
	}}

	event := quietEvent(t)
	event.SourceIP = "198.51.100.2"
	event.Transaction.Meta = map[string]interface{}{"ip": "203.0.113.7"}

	tx := fx.handler.enrich(event.EventID, event)
	assert.True(t, tx.IsInternational)
}

func TestEnrich_NoResolverConfigured(t *testing.T) {
	fx := newConsumerFixture(t)

	event := quietEvent(t)
	event.SourceIP = "203.0.113.7"

	tx := fx.handler.enrich(event.EventID, event)
	assert.Equal(t, event.Transaction, tx)
}
