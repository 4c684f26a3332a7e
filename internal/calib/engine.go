// v4
// internal/calib/engine.go
//
// Grid-search calibration of one numeric topology parameter. Epochs
// are serial: accumulate a batch spanning the MAPE window in event
// time, sweep linspace candidates through the simulator under a
// bounded worker pool, score the survivors against observed power, and
// publish the winner when it improves on the best published score.
package calib

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/parampath"
	"github.com/atlarge-research/opendt/internal/power"
)

type Config struct {
	ParamPath          parampath.Path
	MinValue           float64
	MaxValue           float64
	LinspacePoints     int
	MaxParallelWorkers int
	MapeWindow         time.Duration
	ImprovementEpsilon float64
}

func (c Config) Validate() error {
	if c.ParamPath.String() == "" {
		return fmt.Errorf("calibration.paramPath is required")
	}
	if !(c.MinValue < c.MaxValue) {
		return fmt.Errorf("calibration bounds invalid: min %v must be < max %v", c.MinValue, c.MaxValue)
	}
	if c.LinspacePoints < 2 {
		return fmt.Errorf("calibration.linspacePoints must be >= 2, got %d", c.LinspacePoints)
	}
	if c.MaxParallelWorkers < 1 {
		return fmt.Errorf("calibration.maxParallelWorkers must be >= 1, got %d", c.MaxParallelWorkers)
	}
	if c.MapeWindow <= 0 {
		return fmt.Errorf("calibration.mapeWindowMinutes must be positive")
	}
	if c.ImprovementEpsilon < 0 {
		return fmt.Errorf("calibration improvement epsilon must be >= 0")
	}
	return nil
}

// SimulateFunc runs one candidate simulation. at is the event-time
// instant the run represents, the batch's end.
type SimulateFunc func(ctx context.Context, tasks []model.Task, topo model.Topology, runID string, at model.Timestamp) model.SimulationResult

// PublishFunc pushes an elected topology onto the calibrated channel.
type PublishFunc func(ctx context.Context, topo model.Topology) error

// PersistFunc records the epoch aggregate through the output sink.
type PersistFunc func(ctx context.Context, summary EpochSummary) error

// ObservedFunc returns the current observed topology.
type ObservedFunc func() (model.Topology, bool)

// CandidateScore is one grid point's outcome within an epoch.
type CandidateScore struct {
	Value         float64 `json:"value"`
	MAPE          float64 `json:"mape"`
	AlignedPoints int     `json:"alignedPoints"`
	Status        string  `json:"status"`
	ErrorMsg      string  `json:"errorMsg,omitempty"`
}

// EpochSummary is the persisted record of one calibration epoch.
type EpochSummary struct {
	Epoch       int              `json:"epoch"`
	BatchStart  model.Timestamp  `json:"batchStart"`
	BatchEnd    model.Timestamp  `json:"batchEnd"`
	TaskCount   int              `json:"taskCount"`
	SampleCount int              `json:"sampleCount"`
	Candidates  []CandidateScore `json:"candidates"`
	WinnerFound bool             `json:"winnerFound"`
	WinnerValue float64          `json:"winnerValue"`
	WinnerMAPE  float64          `json:"winnerMape"`
	Published   bool             `json:"published"`
}

type Engine struct {
	cfg      Config
	lg       *slog.Logger
	observed ObservedFunc
	tracker  *power.Tracker
	simulate SimulateFunc
	publish  PublishFunc
	persist  PersistFunc

	mu         sync.Mutex
	tasks      []model.Task
	seen       map[int64]struct{}
	batchStart time.Time
	watermark  time.Time

	epoch         int
	bestMAPE      float64
	currentValue  float64
	hasPublished  bool
	tasksAccepted uint64
}

func NewEngine(cfg Config, observed ObservedFunc, tracker *power.Tracker, simulate SimulateFunc, publish PublishFunc, persist PersistFunc, lg *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		lg:       lg,
		observed: observed,
		tracker:  tracker,
		simulate: simulate,
		publish:  publish,
		persist:  persist,
		seen:     map[int64]struct{}{},
		bestMAPE: math.Inf(1),
	}, nil
}

// OnTask accumulates one task into the current batch, deduplicated by
// id.
func (e *Engine) OnTask(ts model.Timestamp, task model.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance(ts.Time)
	if _, dup := e.seen[task.ID]; dup {
		metrics.InvalidEvents.WithLabelValues("workload", "duplicate").Inc()
		return
	}
	e.seen[task.ID] = struct{}{}
	e.tasks = append(e.tasks, task)
	e.tasksAccepted++
}

// OnHeartbeat advances the batch's event clock.
func (e *Engine) OnHeartbeat(ts model.Timestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance(ts.Time)
}

func (e *Engine) advance(t time.Time) {
	if e.batchStart.IsZero() {
		e.batchStart = t
	}
	if t.After(e.watermark) {
		e.watermark = t
	}
}

// Run executes epochs until ctx is cancelled. Epochs never overlap.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if batchEnd, ok := e.batchReady(); ok {
				e.runEpoch(ctx, batchEnd)
			}
		}
	}
}

func (e *Engine) batchReady() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.batchStart.IsZero() {
		return time.Time{}, false
	}
	batchEnd := e.batchStart.Add(e.cfg.MapeWindow)
	if e.watermark.Before(batchEnd) {
		return time.Time{}, false
	}
	if _, ok := e.observed(); !ok {
		return time.Time{}, false
	}
	return batchEnd, true
}

func (e *Engine) runEpoch(ctx context.Context, batchEnd time.Time) {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	batchStart := e.batchStart
	var batch []model.Task
	for _, t := range e.tasks {
		if t.SubmissionTime.Time.Before(batchEnd) {
			batch = append(batch, t)
		}
	}
	e.mu.Unlock()

	base, ok := e.observed()
	if !ok {
		return
	}
	samples := e.tracker.SamplesIn(batchStart, batchEnd)
	candidates := linspace(e.cfg.MinValue, e.cfg.MaxValue, e.cfg.LinspacePoints)
	e.lg.Info("calibration epoch start",
		"epoch", epoch, "batchStart", batchStart, "batchEnd", batchEnd,
		"tasks", len(batch), "samples", len(samples), "candidates", len(candidates))

	scores := e.sweep(ctx, epoch, base, batch, samples, batchStart, batchEnd, candidates)

	summary := EpochSummary{
		Epoch:       epoch,
		BatchStart:  model.NewTimestamp(batchStart),
		BatchEnd:    model.NewTimestamp(batchEnd),
		TaskCount:   len(batch),
		SampleCount: len(samples),
		Candidates:  scores,
	}

	winner, found := elect(scores, e.cfg.MinValue, e.cfg.MaxValue)
	outcome := "failed"
	if found {
		summary.WinnerFound = true
		summary.WinnerValue = winner.Value
		summary.WinnerMAPE = winner.MAPE
		e.mu.Lock()
		best := e.bestMAPE
		improvement := best - winner.MAPE
		hasPublished := e.hasPublished
		e.mu.Unlock()
		better := improvement > 0 && improvement >= e.cfg.ImprovementEpsilon
		if !hasPublished || better {
			patched, leaves, err := e.cfg.ParamPath.Patch(base, winner.Value)
			if err != nil {
				e.lg.Error("winner patch failed", "epoch", epoch, "error", err)
			} else if err := e.publish(ctx, patched); err != nil {
				e.lg.Error("calibrated publish failed", "epoch", epoch, "error", err)
			} else {
				summary.Published = true
				e.mu.Lock()
				e.bestMAPE = winner.MAPE
				e.currentValue = winner.Value
				e.hasPublished = true
				e.mu.Unlock()
				outcome = "published"
				e.lg.Info("calibrated topology published",
					"epoch", epoch, "value", winner.Value, "mape", winner.MAPE, "leaves", leaves)
			}
		} else {
			outcome = "unchanged"
			e.lg.Info("calibration unchanged",
				"epoch", epoch, "winner", winner.Value, "winnerMape", winner.MAPE, "bestMape", best)
		}
	} else {
		e.lg.Warn("calibration epoch produced no scoreable candidate", "epoch", epoch)
	}
	metrics.CalibrationEpochs.WithLabelValues(outcome).Inc()

	if err := e.persist(ctx, summary); err != nil {
		e.lg.Error("epoch persist", "epoch", epoch, "error", err)
	}

	e.mu.Lock()
	e.batchStart = batchEnd
	kept := e.tasks[:0]
	for _, t := range e.tasks {
		if !t.SubmissionTime.Time.Before(batchEnd) {
			kept = append(kept, t)
		}
	}
	e.tasks = kept
	e.mu.Unlock()
	e.tracker.SetFloor(batchEnd)
}

// sweep fans the candidates out over at most MaxParallelWorkers
// concurrent simulator invocations.
func (e *Engine) sweep(ctx context.Context, epoch int, base model.Topology, batch []model.Task, samples []model.PowerSample, batchStart, batchEnd time.Time, candidates []float64) []CandidateScore {
	scores := make([]CandidateScore, len(candidates))
	sem := make(chan struct{}, e.cfg.MaxParallelWorkers)
	var wg sync.WaitGroup
	for i, v := range candidates {
		wg.Add(1)
		go func(i int, v float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			score := CandidateScore{Value: v, MAPE: math.Inf(1)}
			patched, _, err := e.cfg.ParamPath.Patch(base, v)
			if err != nil {
				score.Status = model.StatusError
				score.ErrorMsg = err.Error()
				scores[i] = score
				return
			}
			runID := fmt.Sprintf("epoch-%d-candidate-%d", epoch, i)
			res := e.simulate(ctx, batch, patched, runID, model.NewTimestamp(batchEnd))
			score.Status = res.Status
			if !res.OK() {
				score.ErrorMsg = res.ErrorMsg
				scores[i] = score
				return
			}
			score.MAPE, score.AlignedPoints = Score(res.PowerSeries, samples, batchStart, batchEnd)
			scores[i] = score
		}(i, v)
	}
	wg.Wait()
	return scores
}

// elect picks the lowest-MAPE candidate; equal scores break toward the
// value closer to the middle of the search range.
func elect(scores []CandidateScore, min, max float64) (CandidateScore, bool) {
	mid := (min + max) / 2
	ranked := make([]CandidateScore, 0, len(scores))
	for _, s := range scores {
		if s.Status == model.StatusOK && !math.IsInf(s.MAPE, 1) {
			ranked = append(ranked, s)
		}
	}
	if len(ranked) == 0 {
		return CandidateScore{}, false
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].MAPE != ranked[j].MAPE {
			return ranked[i].MAPE < ranked[j].MAPE
		}
		return math.Abs(ranked[i].Value-mid) < math.Abs(ranked[j].Value-mid)
	})
	return ranked[0], true
}

func linspace(min, max float64, points int) []float64 {
	out := make([]float64, points)
	step := (max - min) / float64(points-1)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	out[points-1] = max
	return out
}

// Stats is the calibrator's status snapshot.
type Stats struct {
	Epochs        int       `json:"epochs"`
	BatchStart    time.Time `json:"batchStart"`
	Watermark     time.Time `json:"watermark"`
	PendingTasks  int       `json:"pendingTasks"`
	TasksAccepted uint64    `json:"tasksAccepted"`
	BestMAPE      float64   `json:"bestMape"`
	CurrentValue  float64   `json:"currentValue"`
	HasPublished  bool      `json:"hasPublished"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Epochs:        e.epoch,
		BatchStart:    e.batchStart,
		Watermark:     e.watermark,
		PendingTasks:  len(e.tasks),
		TasksAccepted: e.tasksAccepted,
		BestMAPE:      e.bestMAPE,
		CurrentValue:  e.currentValue,
		HasPublished:  e.hasPublished,
	}
}
