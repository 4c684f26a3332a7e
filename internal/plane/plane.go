// v4
// internal/plane/plane.go
//
// Kafka adapter for the core's logical channels. Stream channels are
// plain append-only topics consumed at a checkpointed offset; compacted
// channels are key/value topics (cleanup.policy=compact) replayed from
// the first retained offset so a subscriber always sees the latest value
// per key before live updates.
package plane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atlarge-research/opendt/internal/breaker"
)

// Message is one delivered record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Handler processes one record. Handlers on the same channel are invoked
// serially in partition order; an error is logged and the offset still
// advances (at-least-once with idempotent effects downstream).
type Handler func(ctx context.Context, msg Message) error

// TopicSpec declares a logical channel for EnsureTopics.
type TopicSpec struct {
	Topic     string
	Compacted bool
}

// Plane owns the broker connections, writers and offset checkpoints for
// one service.
type Plane struct {
	brokers []string
	lg      *slog.Logger
	off     *Offsets

	readerCB *breaker.KafkaBreaker
	writerCB *breaker.KafkaBreaker

	writers map[string]*kafka.Writer
	guarded map[string]*breaker.Writer
	readers []*kafka.Reader

	replication int
}

func New(brokers []string, replication int, off *Offsets, lg *slog.Logger) (*Plane, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	readerCB, err := breaker.NewKafkaBreakerFromEnv("plane-reader", lg, nil)
	if err != nil {
		return nil, fmt.Errorf("reader breaker: %w", err)
	}
	writerCB, err := breaker.NewKafkaBreakerFromEnv("plane-writer", lg, nil)
	if err != nil {
		return nil, fmt.Errorf("writer breaker: %w", err)
	}
	return &Plane{
		brokers:     brokers,
		lg:          lg,
		off:         off,
		readerCB:    readerCB,
		writerCB:    writerCB,
		writers:     map[string]*kafka.Writer{},
		guarded:     map[string]*breaker.Writer{},
		replication: replication,
	}, nil
}

// EnsureTopics creates the declared topics on the controller, marking
// compacted channels with cleanup.policy=compact. Creation failures are
// logged, not fatal; the topics usually already exist.
func (p *Plane) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			p.lg.Warn("broker conn close", "error", cerr)
		}
	}()
	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ctrl.Host, ctrl.Port))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			p.lg.Warn("controller conn close", "error", cerr)
		}
	}()

	cfgs := make([]kafka.TopicConfig, 0, len(specs))
	for _, s := range specs {
		tc := kafka.TopicConfig{Topic: s.Topic, NumPartitions: 1, ReplicationFactor: p.replication}
		if s.Compacted {
			tc.ConfigEntries = []kafka.ConfigEntry{
				{ConfigName: "cleanup.policy", ConfigValue: "compact"},
				{ConfigName: "min.cleanable.dirty.ratio", ConfigValue: "0.1"},
			}
		}
		cfgs = append(cfgs, tc)
	}
	if err := c.CreateTopics(cfgs...); err != nil {
		p.lg.Warn("CreateTopics", "error", err)
	}
	p.lg.Info("topics ensured", "count", len(specs))
	return nil
}

// Publish writes one record at-least-once. A nil key is valid for
// stream channels; compacted channels require the logical key.
func (p *Plane) Publish(ctx context.Context, topic string, key, value []byte) error {
	w, ok := p.guarded[topic]
	if !ok {
		raw := &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		p.writers[topic] = raw
		w = breaker.NewWriter(raw, p.writerCB)
		p.guarded[topic] = w
	}
	msg := kafka.Message{Key: key, Value: value, Time: time.Now()}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// CommittedOffset reports the last checkpointed offset for a channel,
// -1 when nothing has been consumed yet.
func (p *Plane) CommittedOffset(topic string, partition int) int64 {
	return p.off.Get(topic, partition)
}

func (p *Plane) Close() {
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.lg.Warn("writer close", "topic", topic, "error", err)
		}
	}
	for _, r := range p.readers {
		if err := r.Close(); err != nil {
			p.lg.Warn("reader close", "topic", r.Config().Topic, "error", err)
		}
	}
	if err := p.off.Save(); err != nil {
		p.lg.Warn("offsets save", "error", err)
	}
}
