// v3
// internal/breaker/kafka.go
//
// Kafka-facing retry policy on top of Breaker. Every attempt runs under
// its own deadline; retries back off exponentially up to backoffCap. An
// open circuit does not consume attempts, it only waits for the next
// probe window.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const backoffCap = 5 * time.Second

type settings struct {
	enabled     bool
	maxAttempts int
	openFor     time.Duration
	timeout     time.Duration
	backoff     time.Duration
}

// settingsFromEnv reads the CB_* keys, leaving defaults in place for
// unset ones:
//
//   - CB_ENABLED (default: false)
//   - CB_KAFKA_FAILURE_THRESHOLD (default: 5)
//   - CB_KAFKA_OPEN_SECONDS (default: 30)
//   - CB_KAFKA_TIMEOUT_MS (default: 3000)
//   - CB_KAFKA_BACKOFF_MS (default: 200)
func settingsFromEnv() (settings, error) {
	s := settings{
		maxAttempts: 5,
		openFor:     30 * time.Second,
		timeout:     3 * time.Second,
		backoff:     200 * time.Millisecond,
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CB_ENABLED"))) {
	case "1", "true", "yes", "on":
		s.enabled = true
	}
	for _, e := range []struct {
		key   string
		apply func(int)
	}{
		{"CB_KAFKA_FAILURE_THRESHOLD", func(v int) { s.maxAttempts = v }},
		{"CB_KAFKA_OPEN_SECONDS", func(v int) { s.openFor = time.Duration(v) * time.Second }},
		{"CB_KAFKA_TIMEOUT_MS", func(v int) { s.timeout = time.Duration(v) * time.Millisecond }},
		{"CB_KAFKA_BACKOFF_MS", func(v int) { s.backoff = time.Duration(v) * time.Millisecond }},
	} {
		raw := strings.TrimSpace(os.Getenv(e.key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return s, fmt.Errorf("invalid %s: %w", e.key, err)
		}
		e.apply(v)
	}
	if s.maxAttempts < 1 {
		return s, errors.New("CB_KAFKA_FAILURE_THRESHOLD must be >= 1")
	}
	if s.openFor <= 0 {
		return s, errors.New("CB_KAFKA_OPEN_SECONDS must be > 0")
	}
	return s, nil
}

// KafkaBreaker applies the retry policy to Kafka operations through a
// shared Breaker. A disabled policy passes operations straight through.
type KafkaBreaker struct {
	settings settings
	breaker  *Breaker
}

func NewKafkaBreakerFromEnv(name string, lg *slog.Logger, probe func(ctx context.Context) error) (*KafkaBreaker, error) {
	s, err := settingsFromEnv()
	if err != nil {
		return nil, err
	}
	kb := &KafkaBreaker{settings: s}
	if s.enabled {
		kb.breaker = New(name, Config{MaxFailures: s.maxAttempts, ResetTimeout: s.openFor}, lg, probe)
	}
	return kb, nil
}

func (k *KafkaBreaker) Enabled() bool {
	return k != nil && k.settings.enabled && k.breaker != nil
}

// do retries op until it succeeds, the attempt budget is spent, or the
// caller's context ends.
func (k *KafkaBreaker) do(ctx context.Context, op func(ctx context.Context) error) error {
	if !k.Enabled() {
		return op(ctx)
	}
	delay := k.settings.backoff
	spent := 0
	for {
		err := k.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrOpen) {
			spent++
			if spent >= k.settings.maxAttempts {
				return err
			}
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		if next := delay * 2; next <= backoffCap {
			delay = next
		}
	}
}

func (k *KafkaBreaker) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if k.settings.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.settings.timeout)
		defer cancel()
	}
	return k.breaker.Execute(ctx, op)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// guard funnels a value-returning Kafka call through the policy.
func guard[T any](ctx context.Context, kb *KafkaBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if !kb.Enabled() {
		return op(ctx)
	}
	err := kb.do(ctx, func(c context.Context) error {
		var opErr error
		out, opErr = op(c)
		return opErr
	})
	return out, err
}

type writerBackend interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type readerBackend interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// Writer is a policy-guarded kafka.Writer.
type Writer struct {
	kb   *KafkaBreaker
	sink writerBackend
}

func NewWriter(w writerBackend, kb *KafkaBreaker) *Writer {
	return &Writer{sink: w, kb: kb}
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w == nil || w.sink == nil {
		return errors.New("nil kafka writer")
	}
	_, err := guard(ctx, w.kb, func(c context.Context) (struct{}, error) {
		return struct{}{}, w.sink.WriteMessages(c, msgs...)
	})
	return err
}

// Reader is a policy-guarded kafka.Reader.
type Reader struct {
	kb     *KafkaBreaker
	source readerBackend
}

func NewReader(r readerBackend, kb *KafkaBreaker) *Reader {
	return &Reader{source: r, kb: kb}
}

func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r == nil || r.source == nil {
		return kafka.Message{}, errors.New("nil kafka reader")
	}
	return guard(ctx, r.kb, func(c context.Context) (kafka.Message, error) {
		return r.source.FetchMessage(c)
	})
}
