// v1
// services/feeder/internal/feeder.go
//
// Synthetic trace feeder: drives the workload, power and observed
// topology channels the way a datacenter edge would, with event time
// running ahead of wall time by a configurable speedup. One simulated
// minute per tick: a burst of tasks, one power reading, one heartbeat.
package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/plane"
)

type Topics struct {
	Workload string
	Power    string
	Observed string
}

type Feeder struct {
	plane    *plane.Plane
	lg       *slog.Logger
	topics   Topics
	gen      *Generator
	interval time.Duration
	maxBurst int

	clock  time.Time
	active int

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewFeeder builds a feeder whose event clock starts at start and
// advances one minute per real interval.
func NewFeeder(p *plane.Plane, topics Topics, start time.Time, interval time.Duration, maxBurst int, seed int64, lg *slog.Logger) *Feeder {
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &Feeder{
		plane:    p,
		lg:       lg,
		topics:   topics,
		gen:      NewGenerator(seed),
		interval: interval,
		maxBurst: maxBurst,
		clock:    start.UTC().Truncate(time.Minute),
		quit:     make(chan struct{}),
	}
}

func (f *Feeder) Start(ctx context.Context) error {
	if err := f.announceTopology(ctx); err != nil {
		return err
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.tick(ctx)
			}
		}
	}()
	f.lg.Info("feeder started", "interval", f.interval.String(), "maxBurst", f.maxBurst, "eventStart", f.clock.Format(time.RFC3339))
	return nil
}

func (f *Feeder) Stop() {
	close(f.quit)
	f.wg.Wait()
	f.lg.Info("feeder stopped")
}

func (f *Feeder) announceTopology(ctx context.Context) error {
	snap := model.TopologySnapshot{Timestamp: model.NewTimestamp(f.clock), Topology: DemoTopology()}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return f.plane.Publish(ctx, f.topics.Observed, []byte("datacenter"), raw)
}

// tick advances event time by one minute and emits that minute's trace.
func (f *Feeder) tick(ctx context.Context) {
	ts := model.NewTimestamp(f.clock)

	burst := f.gen.rng.Intn(f.maxBurst + 1)
	for i := 0; i < burst; i++ {
		task := f.gen.Task(ts)
		f.publishWorkload(ctx, model.WorkloadMessage{MessageType: model.MessageTypeTask, Timestamp: ts, Task: &task})
	}
	f.active = f.active/2 + burst

	sample := f.gen.PowerSample(ts, f.active)
	if raw, err := json.Marshal(sample); err == nil {
		if err := f.plane.Publish(ctx, f.topics.Power, nil, raw); err != nil {
			f.lg.Warn("power publish", "error", err)
		}
	}

	f.publishWorkload(ctx, model.WorkloadMessage{MessageType: model.MessageTypeHeartbeat, Timestamp: ts})
	f.clock = f.clock.Add(time.Minute)
}

func (f *Feeder) publishWorkload(ctx context.Context, msg model.WorkloadMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		f.lg.Warn("workload encode", "error", err)
		return
	}
	if err := f.plane.Publish(ctx, f.topics.Workload, nil, raw); err != nil {
		f.lg.Warn("workload publish", "error", err)
	}
}
