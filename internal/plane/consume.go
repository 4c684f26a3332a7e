// v3
// internal/plane/consume.go
package plane

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atlarge-research/opendt/internal/breaker"
)

const saveEvery = 50

// ConsumeStream follows a stream channel from the checkpointed offset.
// Blocks until ctx is cancelled. Handler errors are logged and the
// offset advances anyway; replay on restart is bounded by the last Save.
func (p *Plane) ConsumeStream(ctx context.Context, topic string, h Handler) error {
	start := p.off.Get(topic, 0) + 1
	if start < 0 {
		start = kafka.FirstOffset
	}
	return p.consume(ctx, topic, start, true, h)
}

// ConsumeCompacted replays a compacted channel from the first retained
// offset and then follows it live, so the subscriber observes the latest
// value per key before any update. No checkpointing: the full replay is
// the recovery mechanism.
func (p *Plane) ConsumeCompacted(ctx context.Context, topic string, h Handler) error {
	return p.consume(ctx, topic, kafka.FirstOffset, false, h)
}

func (p *Plane) consume(ctx context.Context, topic string, startOffset int64, checkpoint bool, h Handler) error {
	raw := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   p.brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   200 * time.Millisecond,
	})
	if err := raw.SetOffset(startOffset); err != nil {
		if cerr := raw.Close(); cerr != nil {
			p.lg.Warn("reader close", "topic", topic, "error", cerr)
		}
		return err
	}
	p.readers = append(p.readers, raw)
	r := breaker.NewReader(raw, p.readerCB)

	p.lg.Info("consuming", "topic", topic, "startOffset", startOffset, "checkpoint", checkpoint)
	sinceSave := 0
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			p.lg.Error("fetch", "topic", topic, "error", err)
			return err
		}
		msg := Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		}
		if herr := h(ctx, msg); herr != nil {
			p.lg.Warn("handler", "topic", topic, "offset", m.Offset, "error", herr)
		}
		if checkpoint {
			p.off.Set(topic, m.Partition, m.Offset)
			sinceSave++
			if sinceSave >= saveEvery {
				sinceSave = 0
				if serr := p.off.Save(); serr != nil {
					p.lg.Warn("offsets save", "topic", topic, "error", serr)
				}
			}
		}
	}
}
