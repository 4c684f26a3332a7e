// v5
// internal/windows/engine.go
//
// Event-time window engine. Ingestion (OnTask/OnHeartbeat, called
// serially from the workload consumer) assigns tasks to aligned
// fixed-width windows and advances the watermark; the Run loop drains
// closed windows in id order and drives one cumulative-replay
// simulation per window. Closed windows queue in a bounded channel;
// when the backlog hits the cap, closure pauses while ingress into
// OPEN windows continues.
package windows

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/simcache"
)

type State int

const (
	Open State = iota
	Closed
	Simulated
	Skipped
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Simulated:
		return "simulated"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Window is one half-open event-time interval [Start, End). Transitions
// are one-way: OPEN -> CLOSED -> SIMULATED, or OPEN -> CLOSED -> SKIPPED
// on a cache hit.
type Window struct {
	ID    uint64
	Start time.Time
	End   time.Time
	Tasks []model.Task
	State State
}

// SimulateFunc runs one simulation over the cumulative task list under
// the given topology. at is the event-time instant the run represents,
// the closing window's end. Implementations report failures in the
// result, never as a panic or a crash of the loop.
type SimulateFunc func(ctx context.Context, tasks []model.Task, topo model.Topology, runID string, at model.Timestamp) model.SimulationResult

// CacheHitFunc is called when a window is served from the cache, with
// the run id that originally produced the result.
type CacheHitFunc func(srcRunID, dstRunID string, taskCount int, at model.Timestamp)

// EmitFunc publishes one report on the results stream.
type EmitFunc func(ctx context.Context, report model.SimulationReport) error

// CalibratedFunc returns the current calibrated topology and its
// fingerprint.
type CalibratedFunc func() (model.Topology, string)

type Config struct {
	Width      time.Duration
	Anchor     time.Time // zero means floor(first observed timestamp, Width)
	MaxPending int
}

type Engine struct {
	cfg        Config
	cache      *simcache.Cache
	calibrated CalibratedFunc
	simulate   SimulateFunc
	emit       EmitFunc
	onCacheHit CacheHitFunc
	lg         *slog.Logger

	mu         sync.Mutex
	anchorSet  bool
	anchor     time.Time
	watermark  time.Time
	windows    []*Window
	head       uint64 // highest window touched by a task or heartbeat
	nextClose  uint64 // lowest window still OPEN
	cumulative []model.Task
	seen       map[int64]struct{}

	tasksAccepted uint64
	tasksDropped  uint64
	heartbeats    uint64

	pending chan closedWindow
}

type closedWindow struct {
	id         uint64
	start, end time.Time
	taskCount  int
	cumulative []model.Task
}

func NewEngine(cfg Config, cache *simcache.Cache, calibrated CalibratedFunc, simulate SimulateFunc, emit EmitFunc, lg *slog.Logger) (*Engine, error) {
	if cfg.Width <= 0 {
		return nil, fmt.Errorf("window width must be positive, got %s", cfg.Width)
	}
	if cfg.MaxPending < 1 {
		return nil, fmt.Errorf("maxPendingWindows must be >= 1, got %d", cfg.MaxPending)
	}
	e := &Engine{
		cfg:        cfg,
		cache:      cache,
		calibrated: calibrated,
		simulate:   simulate,
		emit:       emit,
		lg:         lg,
		seen:       map[int64]struct{}{},
		pending:    make(chan closedWindow, cfg.MaxPending),
	}
	if !cfg.Anchor.IsZero() {
		e.anchorSet = true
		e.anchor = cfg.Anchor.UTC().Truncate(cfg.Width)
	}
	return e, nil
}

// SetCacheHitHook installs the archive-copy hook for cache hits. Must
// be called before Run.
func (e *Engine) SetCacheHitHook(h CacheHitFunc) { e.onCacheHit = h }

// OnTask ingests one task message. Late tasks, tasks for an already
// closed window, are dropped and counted; they never mutate state.
func (e *Engine) OnTask(ts model.Timestamp, task model.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observe(ts.Time)
	w := e.windowIndex(ts.Time)
	late := w < 0
	if !late && len(e.windows) > 0 && ts.Time.Before(e.windows[e.head].Start) {
		late = true
	}
	if late {
		e.tasksDropped++
		metrics.InvalidEvents.WithLabelValues("workload", "late").Inc()
		e.lg.Warn("late task dropped", "task", task.ID, "timestamp", ts.Time)
		return
	}
	e.ensureWindows(uint64(w))
	if _, dup := e.seen[task.ID]; dup {
		e.tasksDropped++
		metrics.InvalidEvents.WithLabelValues("workload", "duplicate").Inc()
		e.lg.Warn("duplicate task dropped", "task", task.ID)
		return
	}
	e.seen[task.ID] = struct{}{}
	win := e.windows[w]
	win.Tasks = append(win.Tasks, task)
	e.tasksAccepted++
	e.tryClose()
}

// OnHeartbeat advances the watermark and attempts window closure.
func (e *Engine) OnHeartbeat(ts model.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observe(ts.Time)
	if w := e.windowIndex(ts.Time); w >= 0 {
		e.ensureWindows(uint64(w))
	}
	e.heartbeats++
	e.tryClose()
}

// observe pins the anchor on the first message and raises the
// watermark. The watermark never moves backwards.
func (e *Engine) observe(t time.Time) {
	if !e.anchorSet {
		e.anchorSet = true
		e.anchor = t.UTC().Truncate(e.cfg.Width)
		e.lg.Info("window anchor set", "anchor", e.anchor, "width", e.cfg.Width.String())
	}
	if t.After(e.watermark) {
		e.watermark = t
		metrics.Watermark.Set(float64(t.Unix()))
	}
}

// windowIndex maps an event time to a window id, -1 when it precedes
// the anchor.
func (e *Engine) windowIndex(t time.Time) int64 {
	d := t.Sub(e.anchor)
	if d < 0 {
		return -1
	}
	return int64(d / e.cfg.Width)
}

func (e *Engine) ensureWindows(upTo uint64) {
	for uint64(len(e.windows)) <= upTo {
		id := uint64(len(e.windows))
		start := e.anchor.Add(time.Duration(id) * e.cfg.Width)
		e.windows = append(e.windows, &Window{
			ID:    id,
			Start: start,
			End:   start.Add(e.cfg.Width),
		})
	}
	if upTo > e.head {
		e.head = upTo
	}
}

// tryClose closes eligible windows in id order. Only the ingestion
// path calls it, so the pending-capacity check cannot race.
func (e *Engine) tryClose() {
	for e.nextClose < uint64(len(e.windows)) {
		win := e.windows[e.nextClose]
		if e.watermark.Before(win.End) {
			return
		}
		if len(e.pending) == cap(e.pending) {
			e.lg.Warn("closure paused, simulation backlog full", "pending", len(e.pending))
			return
		}
		win.State = Closed
		e.cumulative = append(e.cumulative, win.Tasks...)
		cum := e.cumulative[:len(e.cumulative):len(e.cumulative)]
		e.pending <- closedWindow{
			id:         win.ID,
			start:      win.Start,
			end:        win.End,
			taskCount:  len(win.Tasks),
			cumulative: cum,
		}
		e.nextClose++
		metrics.WindowsClosed.Inc()
		metrics.PendingWindows.Set(float64(len(e.pending)))
		e.lg.Info("window closed", "window", win.ID, "tasks", len(win.Tasks), "cumulative", len(cum))
	}
}

// Run drains closed windows until ctx is cancelled, one simulation at
// a time so reports leave in window order.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cw := <-e.pending:
			metrics.PendingWindows.Set(float64(len(e.pending)))
			e.dispatch(ctx, cw)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cw closedWindow) {
	topo, fp := e.calibrated()
	key := simcache.Key{TopologyFingerprint: fp, TaskCount: len(cw.cumulative)}
	runID := fmt.Sprintf("window-%d", cw.id)

	if res, srcRunID, ok := e.cache.Get(key); ok {
		e.setState(cw.id, Skipped)
		e.lg.Info("window served from cache", "window", cw.id, "key", key.String())
		if e.onCacheHit != nil && srcRunID != "" {
			e.onCacheHit(srcRunID, runID, len(cw.cumulative), model.NewTimestamp(cw.end))
		}
		e.publish(ctx, cw, fp, res)
		return
	}

	gen := e.cache.Generation()
	res := e.simulate(ctx, cw.cumulative, topo, runID, model.NewTimestamp(cw.end))
	if res.OK() {
		e.cache.Put(key, gen, runID, res)
	}
	e.setState(cw.id, Simulated)
	e.publish(ctx, cw, fp, res)
}

func (e *Engine) publish(ctx context.Context, cw closedWindow, fingerprint string, res model.SimulationResult) {
	report := model.SimulationReport{
		RunID:               fmt.Sprintf("window-%d", cw.id),
		WindowID:            cw.id,
		WindowStart:         model.NewTimestamp(cw.start),
		WindowEnd:           model.NewTimestamp(cw.end),
		TaskCount:           cw.taskCount,
		TopologyFingerprint: fingerprint,
		Result:              res,
	}
	if err := e.emit(ctx, report); err != nil {
		e.lg.Error("result emit", "window", cw.id, "error", err)
	}
}

func (e *Engine) setState(id uint64, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.windows[id].State = s
}

// Stats is a point-in-time snapshot for the status surface.
type Stats struct {
	Windows       int       `json:"windows"`
	ClosedThrough uint64    `json:"closedThrough"`
	Pending       int       `json:"pending"`
	Watermark     time.Time `json:"watermark"`
	TasksAccepted uint64    `json:"tasksAccepted"`
	TasksDropped  uint64    `json:"tasksDropped"`
	Heartbeats    uint64    `json:"heartbeats"`
	Cumulative    int       `json:"cumulativeTasks"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Windows:       len(e.windows),
		ClosedThrough: e.nextClose,
		Pending:       len(e.pending),
		Watermark:     e.watermark,
		TasksAccepted: e.tasksAccepted,
		TasksDropped:  e.tasksDropped,
		Heartbeats:    e.heartbeats,
		Cumulative:    len(e.cumulative),
	}
}
