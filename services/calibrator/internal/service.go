// v5
// services/calibrator/internal/service.go
//
// Wires the calibration loop: workload and power streams in, the grid
// sweep through the OpenDC driver, elected topologies out on the
// compacted calibrated channel.
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

	"github.com/atlarge-research/opendt/internal/calib"
	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/opendc"
	"github.com/atlarge-research/opendt/internal/parampath"
	"github.com/atlarge-research/opendt/internal/plane"
	"github.com/atlarge-research/opendt/internal/power"
	"github.com/atlarge-research/opendt/internal/sink"
	"github.com/atlarge-research/opendt/internal/topostate"
)

type Service struct {
	cfg *AppConfig
	lg  *slog.Logger

	plane   *plane.Plane
	sink    *sink.Sink
	store   *topostate.Store
	tracker *power.Tracker
	runner  *opendc.Runner
	engine  *calib.Engine

	scratchRoot string
	runSeq      atomic.Int64
}

func NewService(cfg *AppConfig, lg *slog.Logger) (*Service, error) {
	path, err := parampath.Parse(cfg.ParamPath)
	if err != nil {
		return nil, fmt.Errorf("calibration.paramPath: %w", err)
	}
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
		store:   topostate.NewStore(lg),
		tracker: power.NewTracker(time.Duration(cfg.PowerRetentionHours)*time.Hour, lg),
		runner:  runner,
	}
	instance := cfg.WorkerID
	if instance == "" {
		instance = uuid.NewString()
	}
	s.scratchRoot = filepath.Join(os.TempDir(), "opendt-calib", instance)

	eng, err := calib.NewEngine(calib.Config{
		ParamPath:          path,
		MinValue:           cfg.MinValue,
		MaxValue:           cfg.MaxValue,
		LinspacePoints:     cfg.LinspacePoints,
		MaxParallelWorkers: cfg.MaxParallelWorkers,
		MapeWindow:         time.Duration(cfg.MapeWindowMinutes) * time.Minute,
		ImprovementEpsilon: cfg.ImprovementEpsilon,
	}, s.observedTopology, s.tracker, s.simulate, s.publishCalibrated, s.persistEpoch, lg)
	if err != nil {
		return nil, err
	}
	s.engine = eng
	return s, nil
}

// Run ensures the channels exist, attaches the consumers and drives the
// epoch loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	specs := []plane.TopicSpec{
		{Topic: s.cfg.TopicWorkload},
		{Topic: s.cfg.TopicPower},
		{Topic: s.cfg.TopicObserved, Compacted: true},
		{Topic: s.cfg.TopicCalibrated, Compacted: true},
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
		return s.plane.ConsumeCompacted(ctx, s.cfg.TopicObserved, s.onObservedTopology)
	})

	return s.engine.Run(ctx)
}

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

func (s *Service) onObservedTopology(_ context.Context, msg plane.Message) error {
	snap, err := model.DecodeTopologySnapshot(msg.Value)
	if err != nil {
		metrics.InvalidEvents.WithLabelValues("observed", "malformed").Inc()
		s.lg.Warn("malformed topology snapshot dropped", "offset", msg.Offset, "error", err)
		return nil
	}
	if _, _, err := s.store.Set(topostate.Observed, snap.Topology); err != nil {
		return err
	}
	return nil
}

func (s *Service) observedTopology() (model.Topology, bool) {
	topo, _, _, ok := s.store.Get(topostate.Observed)
	return topo, ok
}

func (s *Service) simulate(ctx context.Context, tasks []model.Task, topo model.Topology, runID string, at model.Timestamp) model.SimulationResult {
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

// publishCalibrated pushes the elected topology onto the compacted
// channel under the stable datacenter key, so compaction retains only
// the latest winner.
func (s *Service) publishCalibrated(ctx context.Context, topo model.Topology) error {
	snap := model.TopologySnapshot{
		Timestamp: model.NewTimestamp(time.Now()),
		Topology:  topo,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	return s.plane.Publish(ctx, s.cfg.TopicCalibrated, []byte("datacenter"), payload)
}

func (s *Service) persistEpoch(_ context.Context, summary calib.EpochSummary) error {
	return s.sink.AppendEpochSummary(summary)
}

// Status is the /status document.
type Status struct {
	Calibration    calib.Stats `json:"calibration"`
	PowerSamples   int         `json:"powerSamples"`
	ObservedGen    uint64      `json:"observedGeneration"`
	WorkloadOffset int64       `json:"workloadOffset"`
	PowerOffset    int64       `json:"powerOffset"`
}

func (s *Service) Status() Status {
	return Status{
		Calibration:    s.engine.Stats(),
		PowerSamples:   s.tracker.Len(),
		ObservedGen:    s.store.Generation(topostate.Observed),
		WorkloadOffset: s.plane.CommittedOffset(s.cfg.TopicWorkload, 0),
		PowerOffset:    s.plane.CommittedOffset(s.cfg.TopicPower, 0),
	}
}
