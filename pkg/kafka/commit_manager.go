package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/smartfinance/anomaly-detection-service/pkg"
	"go.uber.org/zap"
)

type tp struct {
	topic     string
	partition int32
}

// OffsetCommitter is the slice of kafka.Consumer the manager needs.
type OffsetCommitter interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

// CommitManager advances consumer offsets over contiguous runs of processed
// messages. Handlers complete out of order under the concurrency semaphore,
// so a message's offset is only committed once everything before it on the
// same partition has been acked too.
type CommitManager struct {
	mu        sync.Mutex
	next      map[tp]int64              // lowest offset the commit position still waits on
	done      map[tp]map[int64]struct{} // acked offsets at or above next
	committer OffsetCommitter
	log       *zap.Logger
}

func NewCommitManager(c OffsetCommitter, l *zap.Logger) *CommitManager {
	return &CommitManager{
		next:      make(map[tp]int64),
		done:      make(map[tp]map[int64]struct{}),
		committer: c,
		log:       l,
	}
}

// Track records a delivered message in read order, before it is dispatched
// to a handler. The first tracked offset seeds the partition's commit
// position so partitions resuming mid-stream do not wait on offsets below
// their starting point.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tpOf(msg)
	if _, ok := m.next[key]; !ok {
		m.next[key] = int64(msg.TopicPartition.Offset)
	}
}

// Ack marks the message's offset processed and commits the longest
// contiguous run. On commit failure nothing advances; a later Ack retries
// the same range.
func (m *CommitManager) Ack(eventId uuid.UUID, msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tpOf(msg)
	off := int64(msg.TopicPartition.Offset)

	if m.done[key] == nil {
		m.done[key] = map[int64]struct{}{}
	}
	m.done[key][off] = struct{}{}

	next, ok := m.next[key]
	if !ok {
		// Ack without a prior Track; treat this offset as the partition start.
		next = off
		m.next[key] = next
	}

	candidate := next
	for {
		if _, acked := m.done[key][candidate]; !acked {
			break
		}
		candidate++
	}
	if candidate == next {
		return
	}

	// Kafka commit semantics: the committed offset is the next one to read.
	tpToCommit := kafka.TopicPartition{Topic: &key.topic, Partition: key.partition, Offset: kafka.Offset(candidate)}
	if _, err := m.committer.CommitOffsets([]kafka.TopicPartition{tpToCommit}); err != nil {
		m.log.Error("offset commit failed",
			zap.Any(pkg.EventId, eventId),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", candidate),
			zap.Error(err))
		return
	}

	for o := next; o < candidate; o++ {
		delete(m.done[key], o)
	}
	m.next[key] = candidate
	m.log.Debug("offset committed",
		zap.Any(pkg.EventId, eventId),
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", candidate))
}

func tpOf(msg *kafka.Message) tp {
	return tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
}
