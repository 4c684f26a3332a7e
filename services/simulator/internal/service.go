// v6
// services/simulator/internal/service.go
//
// Wires the shadow-twin pipeline: Kafka channels in, the window engine
// in the middle, the OpenDC driver below it, and the aggregate table
// plus run archives out the bottom.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/opendc"
	"github.com/atlarge-research/opendt/internal/plane"
	"github.com/atlarge-research/opendt/internal/power"
	"github.com/atlarge-research/opendt/internal/simcache"
	"github.com/atlarge-research/opendt/internal/sink"
	"github.com/atlarge-research/opendt/internal/topostate"
	"github.com/atlarge-research/opendt/internal/windows"
)

type Service struct {
	cfg *AppConfig
	lg  *slog.Logger

	plane   *plane.Plane
	sink    *sink.Sink
	cache   *simcache.Cache
	store   *topostate.Store
	tracker *power.Tracker
	runner  *opendc.Runner
	engine  *windows.Engine

	scratchRoot string
	runSeq      atomic.Int64
}

func NewService(cfg *AppConfig, lg *slog.Logger) (*Service, error) {
	off, err := plane.NewOffsets(cfg.OffsetsPath)
	if err != nil {
		return nil, fmt.Errorf("offsets: %w", err)
	}
	pl, err := plane.New(cfg.KafkaBrokers, cfg.TopicReplication, off, lg)
	if err != nil {
		return nil, err
	}
	sk, err := sink.New(cfg.OutputDir, cfg.SinkStrict, lg)
	if err != nil {
		return nil, err
	}
	runner, err := opendc.NewRunner(cfg.OpenDCBin, time.Duration(cfg.SubprocessTimeoutSeconds)*time.Second, lg)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		lg:      lg,
		plane:   pl,
		sink:    sk,
		cache:   simcache.New(cfg.CacheMaxEntries, lg),
		store:   topostate.NewStore(lg),
		tracker: power.NewTracker(power.DefaultRetention, lg),
		runner:  runner,
	}

	instance := cfg.WorkerID
	if instance == "" {
		instance = uuid.NewString()
	}
	s.scratchRoot = filepath.Join(os.TempDir(), "opendt", instance)

	// A new calibrated topology invalidates every cached result.
	s.store.Subscribe(func(cell topostate.Cell, _ uint64, _ model.Topology) {
		if cell == topostate.Calibrated {
			s.cache.Bump()
		}
	})

	eng, err := windows.NewEngine(windows.Config{
		Width:      time.Duration(cfg.WindowWidthMinutes) * time.Minute,
		MaxPending: cfg.MaxPendingWindows,
	}, s.cache, s.calibrated, s.simulate, s.emit, lg)
	if err != nil {
		return nil, err
	}
	eng.SetCacheHitHook(s.onCacheHit)
	s.engine = eng
	return s, nil
}

// Run ensures the channels exist, attaches the consumers and drives the
// window engine until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	specs := []plane.TopicSpec{
		{Topic: s.cfg.TopicWorkload},
		{Topic: s.cfg.TopicPower},
		{Topic: s.cfg.TopicObserved, Compacted: true},
		{Topic: s.cfg.TopicCalibrated, Compacted: true},
		{Topic: s.cfg.TopicResults},
	}
	if err := s.plane.EnsureTopics(ctx, specs); err != nil {
		s.lg.Warn("ensure topics", "error", err)
	}

	go s.consumeLoop(ctx, "workload", func() error {
		return s.plane.ConsumeStream(ctx, s.cfg.TopicWorkload, s.onWorkload)
	})
	go s.consumeLoop(ctx, "power", func() error {
		return s.plane.ConsumeStream(ctx, s.cfg.TopicPower, s.onPower)
	})
	go s.consumeLoop(ctx, "topology-observed", func() error {
		return s.plane.ConsumeCompacted(ctx, s.cfg.TopicObserved, s.onTopology(topostate.Observed))
	})
	go s.consumeLoop(ctx, "topology-calibrated", func() error {
		return s.plane.ConsumeCompacted(ctx, s.cfg.TopicCalibrated, s.onTopology(topostate.Calibrated))
	})

	return s.engine.Run(ctx)
}

// consumeLoop restarts a consumer after transient broker failures.
func (s *Service) consumeLoop(ctx context.Context, name string, f func() error) {
	for {
		err := f()
		if ctx.Err() != nil {
			return
		}
		s.lg.Error("consumer stopped, restarting", "consumer", name, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Service) Close() {
	s.plane.Close()
	s.sink.Close()
	_ = os.RemoveAll(s.scratchRoot)
}

func (s *Service) onWorkload(_ context.Context, msg plane.Message) error {
	m, err := model.DecodeWorkloadMessage(msg.Value)
	if err != nil {
		metrics.InvalidEvents.WithLabelValues("workload", "malformed").Inc()
		s.lg.Warn("malformed workload message dropped", "offset", msg.Offset, "error", err)
		return nil
	}
	switch m.MessageType {
	case model.MessageTypeTask:
		s.engine.OnTask(m.Timestamp, *m.Task)
	case model.MessageTypeHeartbeat:
		s.engine.OnHeartbeat(m.Timestamp)
	}
	return nil
}

func (s *Service) onPower(_ context.Context, msg plane.Message) error {
	sample, err := model.DecodePowerSample(msg.Value)
	if err != nil {
		metrics.InvalidEvents.WithLabelValues("power", "malformed").Inc()
		s.lg.Warn("malformed power sample dropped", "offset", msg.Offset, "error", err)
		return nil
	}
	s.tracker.Add(sample)
	return nil
}

func (s *Service) onTopology(cell topostate.Cell) plane.Handler {
	channel := string(cell)
	return func(_ context.Context, msg plane.Message) error {
		snap, err := model.DecodeTopologySnapshot(msg.Value)
		if err != nil {
			metrics.InvalidEvents.WithLabelValues(channel, "malformed").Inc()
			s.lg.Warn("malformed topology snapshot dropped", "cell", channel, "offset", msg.Offset, "error", err)
			return nil
		}
		if _, _, err := s.store.Set(cell, snap.Topology); err != nil {
			return err
		}
		return nil
	}
}

// calibrated feeds the window engine the topology every window runs
// under. Before the first observed snapshot arrives there is nothing to
// simulate against; the zero value makes the run fail cleanly.
func (s *Service) calibrated() (model.Topology, string) {
	topo, fp, _, ok := s.store.Get(topostate.Calibrated)
	if !ok {
		return model.Topology{}, ""
	}
	return topo, fp
}

func (s *Service) simulate(ctx context.Context, tasks []model.Task, topo model.Topology, runID string, at model.Timestamp) model.SimulationResult {
	if len(topo.Clusters) == 0 {
		s.lg.Warn("no topology observed yet, window fails", "run", runID)
		return model.ErrorResult("no topology available")
	}
	runNumber := int(s.runSeq.Add(1))
	scratch := filepath.Join(s.scratchRoot, runID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return model.ErrorResult(fmt.Sprintf("scratch dir: %v", err))
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	res := s.runner.Run(ctx, tasks, topo, scratch, runNumber, at)
	if res.OK() && s.cfg.ArchiveEnabled && len(tasks) > 0 {
		if err := s.sink.Archive(runID, scratch); err != nil {
			s.lg.Error("archive", "run", runID, "error", err)
		}
	}
	return res
}

// onCacheHit materializes the archive a fresh run would have produced,
// copied from the run that populated the cache.
func (s *Service) onCacheHit(srcRunID, dstRunID string, taskCount int, at model.Timestamp) {
	if !s.cfg.ArchiveEnabled {
		return
	}
	md := opendc.Metadata{
		RunNumber:     int(s.runSeq.Add(1)),
		SimulatedTime: at.UTC().Format(time.RFC3339),
		TaskCount:     taskCount,
		WallClockTime: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Cached:        true,
	}
	if err := s.sink.ArchiveCachedRun(srcRunID, dstRunID, md); err != nil {
		s.lg.Error("cached archive", "src", srcRunID, "dst", dstRunID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, report model.SimulationReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report encode: %w", err)
	}
	if err := s.plane.Publish(ctx, s.cfg.TopicResults, nil, payload); err != nil {
		return err
	}
	return s.sink.AppendWindowReport(report)
}

// Status is the /status document.
type Status struct {
	Windows        windows.Stats `json:"windows"`
	CacheEntries   int           `json:"cacheEntries"`
	PowerSamples   int           `json:"powerSamples"`
	ObservedGen    uint64        `json:"observedGeneration"`
	CalibratedGen  uint64        `json:"calibratedGeneration"`
	WorkloadOffset int64         `json:"workloadOffset"`
	PowerOffset    int64         `json:"powerOffset"`
}

func (s *Service) Status() Status {
	return Status{
		Windows:        s.engine.Stats(),
		CacheEntries:   s.cache.Len(),
		PowerSamples:   s.tracker.Len(),
		ObservedGen:    s.store.Generation(topostate.Observed),
		CalibratedGen:  s.store.Generation(topostate.Calibrated),
		WorkloadOffset: s.plane.CommittedOffset(s.cfg.TopicWorkload, 0),
		PowerOffset:    s.plane.CommittedOffset(s.cfg.TopicPower, 0),
	}
}
