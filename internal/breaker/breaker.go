// v2
// internal/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker fast-fails an operation.
var ErrOpen = errors.New("circuit breaker open")

// Config are the state-machine tunables.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker is a minimal failure-counting circuit breaker. After
// MaxFailures consecutive failures it opens; after ResetTimeout a single
// half-open probe decides whether it closes again.
type Breaker struct {
	name  string
	cfg   Config
	lg    *slog.Logger
	probe func(ctx context.Context) error

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

func New(name string, cfg Config, lg *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	b := &Breaker{name: name, cfg: cfg, lg: lg, probe: probe, state: Closed}
	lg.Info("breaker_created", "name", name, "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

// Execute runs op under the breaker policy.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		return b.probeThenOp(ctx, op)
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	b.mu.Lock()
	nowOpen := b.state == Open
	b.mu.Unlock()
	if nowOpen {
		return ErrOpen
	}
	return err
}

func (b *Breaker) probeThenOp(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.state = HalfOpen
	b.mu.Unlock()
	b.lg.Info("breaker_probe", "name", b.name)

	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.lg.Warn("breaker_probe_failed", "name", b.name, "error", err)
			b.reopen()
			return ErrOpen
		}
	}
	if err := op(ctx); err != nil {
		b.lg.Warn("breaker_halfopen_failed", "name", b.name, "error", err)
		b.reopen()
		return err
	}
	b.mu.Lock()
	b.state = Closed
	b.recentFails = 0
	b.mu.Unlock()
	b.lg.Info("breaker_closed", "name", b.name)
	return nil
}

func (b *Breaker) reopen() {
	b.mu.Lock()
	b.state = Open
	b.openedAt = time.Now()
	b.recentFails++
	b.mu.Unlock()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.lg.Warn("breaker_failure", "name", b.name, "failures", b.recentFails, "error", err)
	if b.recentFails >= b.cfg.MaxFailures {
		b.state = Open
		b.openedAt = time.Now()
		b.lg.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
