// v5
// internal/sink/sink.go
//
// Output sink: the append-only aggregate table plus per-run archive
// directories. A badger-backed run registry tracks run ids under
// at-least-once replay: by default a duplicate aggregate row is skipped
// and a duplicate archive overwrites the earlier one; strict mode
// rejects both. The aggregate file is rewritten through a
// temp file and renamed, guarded by an exclusive flock so concurrent
// services on one host cannot interleave writes.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/parquet-go/parquet-go"

	"github.com/atlarge-research/opendt/internal/calib"
	"github.com/atlarge-research/opendt/internal/model"
)

// ErrDuplicateRun is returned in strict mode when a run id was already
// written.
var ErrDuplicateRun = errors.New("duplicate run id")

const aggFile = "agg_results.parquet"

// aggRow is one line of the aggregate table, one per completed window
// or calibration epoch.
type aggRow struct {
	RunID               string  `parquet:"run_id"`
	WindowID            int64   `parquet:"window_id"`
	WindowStart         int64   `parquet:"window_start,timestamp(millisecond)"`
	WindowEnd           int64   `parquet:"window_end,timestamp(millisecond)"`
	TaskCount           int32   `parquet:"task_count"`
	TopologyFingerprint string  `parquet:"topology_fingerprint"`
	EnergyKWh           float64 `parquet:"energy_kwh"`
	MeanCPUUtil         float64 `parquet:"mean_cpu_util"`
	MaxPowerW           float64 `parquet:"max_power_w"`
	RuntimeHours        float64 `parquet:"runtime_hours"`
	Status              string  `parquet:"status"`
	ErrorMsg            string  `parquet:"error_msg"`
	ProducedAt          int64   `parquet:"produced_at,timestamp(millisecond)"`
}

type Sink struct {
	outDir string
	strict bool
	lg     *slog.Logger
	db     *badger.DB

	mu sync.Mutex
}

func New(outDir string, strict bool, lg *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(outDir, "registry")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}
	lg.Info("output sink ready", "dir", outDir, "strict", strict)
	return &Sink{outDir: outDir, strict: strict, lg: lg, db: db}, nil
}

func (s *Sink) Close() {
	if err := s.db.Close(); err != nil {
		s.lg.Warn("registry close", "error", err)
	}
}

// seen checks and marks a registry key in one transaction. Returns
// true when the key already existed.
func (s *Sink) seen(key string) (bool, error) {
	dup := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			dup = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return dup, err
}

// AppendWindowReport appends one window's result row. Replayed run ids
// are skipped so at-least-once delivery keeps the table exact.
func (s *Sink) AppendWindowReport(report model.SimulationReport) error {
	dup, err := s.seen("agg/" + report.RunID)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if dup {
		if s.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, report.RunID)
		}
		s.lg.Info("replayed report skipped", "runId", report.RunID)
		return nil
	}
	row := aggRow{
		RunID:               report.RunID,
		WindowID:            int64(report.WindowID),
		WindowStart:         report.WindowStart.UnixMilli(),
		WindowEnd:           report.WindowEnd.UnixMilli(),
		TaskCount:           int32(report.TaskCount),
		TopologyFingerprint: report.TopologyFingerprint,
		EnergyKWh:           report.Result.EnergyKWh,
		MeanCPUUtil:         report.Result.MeanCPUUtil,
		MaxPowerW:           report.Result.MaxPowerW,
		RuntimeHours:        report.Result.RuntimeHours,
		Status:              report.Result.Status,
		ErrorMsg:            report.Result.ErrorMsg,
		ProducedAt:          time.Now().UnixMilli(),
	}
	return s.appendRow(row)
}

// AppendEpochSummary records a calibration epoch: one aggregate row
// plus the full candidate detail as JSON beside the table.
func (s *Sink) AppendEpochSummary(summary calib.EpochSummary) error {
	runID := fmt.Sprintf("epoch-%d", summary.Epoch)
	dup, err := s.seen("agg/" + runID)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if dup {
		if s.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
		}
		s.lg.Info("replayed epoch skipped", "runId", runID)
		return nil
	}

	detailDir := filepath.Join(s.outDir, "epochs")
	if err := os.MkdirAll(detailDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(detailDir, runID+".json"), raw, 0o644); err != nil {
		return err
	}

	status := model.StatusError
	if summary.WinnerFound {
		status = model.StatusOK
	}
	row := aggRow{
		RunID:       runID,
		WindowID:    -1,
		WindowStart: summary.BatchStart.UnixMilli(),
		WindowEnd:   summary.BatchEnd.UnixMilli(),
		TaskCount:   int32(summary.TaskCount),
		Status:      status,
		ProducedAt:  time.Now().UnixMilli(),
	}
	return s.appendRow(row)
}

// appendRow rewrites the aggregate file with the new row, dropping any
// stale duplicate left by a crash mid-append.
func (s *Sink) appendRow(row aggRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockAgg()
	if err != nil {
		return err
	}
	defer unlock()

	path := filepath.Join(s.outDir, aggFile)
	var rows []aggRow
	if existing, err := parquet.ReadFile[aggRow](path); err == nil {
		rows = existing
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.lg.Warn("aggregate table unreadable, rebuilding", "error", err)
	}
	byID := map[string]struct{}{}
	kept := rows[:0]
	for _, r := range rows {
		if _, dup := byID[r.RunID]; dup || r.RunID == row.RunID {
			continue
		}
		byID[r.RunID] = struct{}{}
		kept = append(kept, r)
	}
	kept = append(kept, row)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	w := parquet.NewGenericWriter[aggRow](f)
	if _, err := w.Write(kept); err != nil {
		_ = f.Close()
		return fmt.Errorf("write aggregate: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close aggregate: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish aggregate: %w", err)
	}
	s.lg.Info("aggregate row appended", "runId", row.RunID, "rows", len(kept))
	return nil
}

func (s *Sink) lockAgg() (func(), error) {
	lf, err := os.OpenFile(filepath.Join(s.outDir, aggFile+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)
		_ = lf.Close()
	}, nil
}
