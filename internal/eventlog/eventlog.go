// Package eventlog is the optional stale-data / subscription-lifecycle audit
// sink spec.md's Design Notes §9 permits layering on top of C4/C6 without
// touching core invariants (SPEC_FULL §9). Disabled by default; when
// enabled it mirrors every tick's bulk snapshot and the subscription
// lifecycle transitions internal/session reports (subscribe, add, remove,
// unsubscribe, disconnect) to Kafka; expiry-sweep removals are not
// published. Kafka is the same transport the teacher's
// cmd/generator and cmd/processor already use for tick data, repurposed here
// as a monitoring sink instead of the primary data path.
package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/brokerx/market-service/internal/tick"
	"github.com/brokerx/market-service/pkg/models"
)

// Sink receives a copy of tick and subscription-lifecycle activity.
// Implementations must never block the caller for long: the core tick and
// session-lifecycle paths must not acquire a dependency on this sink being
// healthy (spec §1 Non-goals: no cross-instance coordination in the core).
type Sink interface {
	PublishTick(ctx context.Context, snap tick.Snapshot)
	PublishLifecycle(ctx context.Context, kind, sessionID, userID string, symbols []string)
}

// Noop is the default, always-available Sink: every call is a no-op. Used
// when eventlog.kafka_brokers is empty (SPEC_FULL §6).
type Noop struct{}

func (Noop) PublishTick(context.Context, tick.Snapshot)                         {}
func (Noop) PublishLifecycle(context.Context, string, string, string, []string) {}

// Writer is the seam KafkaSink writes through, mirroring the teacher's
// generator.KafkaWriter interface so tests can supply a fake instead of a
// live broker.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes tick and lifecycle events as JSON to one Kafka topic.
// Delivery failures are logged, never propagated: this is a monitoring
// sink, not part of the request/response or tick critical path.
type KafkaSink struct {
	writer Writer
	topic  string
	logger *zap.Logger

	mu      sync.Mutex
	seqByID map[string]int64
}

// NewKafkaSink wires a real *kafka.Writer for brokers/topic.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return NewKafkaSinkWithWriter(w, topic, logger)
}

// NewKafkaSinkWithWriter builds a KafkaSink over an arbitrary Writer, the
// seam tests use to inject a fake.
func NewKafkaSinkWithWriter(w Writer, topic string, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		topic:   topic,
		logger:  logger,
		seqByID: make(map[string]int64),
	}
}

// PublishTick writes one TickEvent per symbol in the snapshot.
func (s *KafkaSink) PublishTick(ctx context.Context, snap tick.Snapshot) {
	msgs := make([]kafka.Message, 0, len(snap.Quotes))
	for symbol, q := range snap.Quotes {
		price, _ := q.LastPrice.Float64()
		event := models.TickEvent{
			Symbol:    symbol,
			Price:     price,
			Timestamp: snap.Timestamp.UnixMicro(),
			SeqID:     s.nextSeq(symbol),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("eventlog: marshal tick event failed", zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(symbol), Value: payload})
	}
	s.write(ctx, msgs)
}

// PublishLifecycle writes one LifecycleEvent.
func (s *KafkaSink) PublishLifecycle(ctx context.Context, kind, sessionID, userID string, symbols []string) {
	event := models.LifecycleEvent{
		Kind:      kind,
		SessionID: sessionID,
		UserID:    userID,
		Symbols:   symbols,
		Timestamp: time.Now().UnixMicro(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("eventlog: marshal lifecycle event failed", zap.Error(err))
		return
	}
	s.write(ctx, []kafka.Message{{Key: []byte(sessionID), Value: payload}})
}

func (s *KafkaSink) write(ctx context.Context, msgs []kafka.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.Warn("eventlog: kafka write failed", zap.Error(err))
	}
}

func (s *KafkaSink) nextSeq(symbol string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqByID[symbol]++
	return s.seqByID[symbol]
}
