package kafkautils_test

import (
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	kafkautils "github.com/smartfinance/anomaly-detection-service/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCommitter struct {
	commits []kafka.TopicPartition
	err     error
}

func (f *fakeCommitter) CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, offsets...)
	return offsets, nil
}

func msgAt(topic string, partition int32, offset int64) *kafka.Message {
	return &kafka.Message{TopicPartition: kafka.TopicPartition{
		Topic: &topic, Partition: partition, Offset: kafka.Offset(offset),
	}}
}

func lastCommitted(t *testing.T, f *fakeCommitter) int64 {
	t.Helper()
	require.NotEmpty(t, f.commits)
	return int64(f.commits[len(f.commits)-1].Offset)
}

func TestCommitManager_InOrderAcksAdvanceEachTime(t *testing.T) {
	committer := &fakeCommitter{}
	manager := kafkautils.NewCommitManager(committer, zap.NewNop())

	for off := int64(0); off < 3; off++ {
		m := msgAt("transactions", 0, off)
		manager.Track(m)
		manager.Ack(uuid.New(), m)
	}

	assert.Len(t, committer.commits, 3)
	assert.Equal(t, int64(3), lastCommitted(t, committer), "committed offset is the next to read")
}

func TestCommitManager_OutOfOrderAckWaitsForGap(t *testing.T) {
	committer := &fakeCommitter{}
	manager := kafkautils.NewCommitManager(committer, zap.NewNop())
	m0, m1, m2 := msgAt("transactions", 0, 0), msgAt("transactions", 0, 1), msgAt("transactions", 0, 2)
	manager.Track(m0)
	manager.Track(m1)
	manager.Track(m2)

	manager.Ack(uuid.New(), m2)
	assert.Empty(t, committer.commits, "offset 2 must wait for 0 and 1")

	manager.Ack(uuid.New(), m0)
	assert.Equal(t, int64(1), lastCommitted(t, committer))

	manager.Ack(uuid.New(), m1)
	assert.Equal(t, int64(3), lastCommitted(t, committer), "1 and 2 commit together once the gap closes")
}

func TestCommitManager_PartitionResumingMidStream(t *testing.T) {
	committer := &fakeCommitter{}
	manager := kafkautils.NewCommitManager(committer, zap.NewNop())
	// A rebalanced partition starts at offset 100; nothing below it exists.
	m := msgAt("transactions", 3, 100)
	manager.Track(m)

	manager.Ack(uuid.New(), m)

	assert.Equal(t, int64(101), lastCommitted(t, committer))
}

func TestCommitManager_PartitionsAreIndependent(t *testing.T) {
	committer := &fakeCommitter{}
	manager := kafkautils.NewCommitManager(committer, zap.NewNop())
	p0, p1 := msgAt("transactions", 0, 0), msgAt("transactions", 1, 0)
	manager.Track(p0)
	manager.Track(p1)

	manager.Ack(uuid.New(), p1)

	require.Len(t, committer.commits, 1)
	assert.Equal(t, int32(1), committer.commits[0].Partition)
}

func TestCommitManager_FailedCommitRetriesOnNextAck(t *testing.T) {
	committer := &fakeCommitter{err: errors.New("broker away")}
	manager := kafkautils.NewCommitManager(committer, zap.NewNop())
	m0, m1 := msgAt("transactions", 0, 0), msgAt("transactions", 0, 1)
	manager.Track(m0)
	manager.Track(m1)

	manager.Ack(uuid.New(), m0)
	assert.Empty(t, committer.commits)

	committer.err = nil
	manager.Ack(uuid.New(), m1)
	assert.Equal(t, int64(2), lastCommitted(t, committer), "the failed range is retried, nothing is lost")
}
