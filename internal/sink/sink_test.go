// v1
// internal/sink/sink_test.go
package sink

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/atlarge-research/opendt/internal/calib"
	"github.com/atlarge-research/opendt/internal/model"
	"github.com/atlarge-research/opendt/internal/opendc"
)

var sinkBase = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T, strict bool) *Sink {
	t.Helper()
	s, err := New(t.TempDir(), strict, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func report(runID string, windowID uint64, energy float64) model.SimulationReport {
	return model.SimulationReport{
		RunID:               runID,
		WindowID:            windowID,
		WindowStart:         model.NewTimestamp(sinkBase),
		WindowEnd:           model.NewTimestamp(sinkBase.Add(5 * time.Minute)),
		TaskCount:           3,
		TopologyFingerprint: "fp-test",
		Result:              model.SimulationResult{Status: model.StatusOK, EnergyKWh: energy},
	}
}

func readAgg(t *testing.T, s *Sink) []aggRow {
	t.Helper()
	rows, err := parquet.ReadFile[aggRow](filepath.Join(s.outDir, aggFile))
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	return rows
}

func TestAppendWindowReportRoundTrip(t *testing.T) {
	s := newTestSink(t, false)
	if err := s.AppendWindowReport(report("window-0", 0, 1.5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendWindowReport(report("window-1", 1, 2.5)); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows := readAgg(t, s)
	if len(rows) != 2 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].RunID != "window-0" || rows[0].EnergyKWh != 1.5 {
		t.Fatalf("first row: %+v", rows[0])
	}
	if rows[1].WindowID != 1 || rows[1].Status != model.StatusOK {
		t.Fatalf("second row: %+v", rows[1])
	}
	if rows[0].WindowStart != sinkBase.UnixMilli() {
		t.Fatalf("window start: %d", rows[0].WindowStart)
	}
}

func TestReplayedReportSkipped(t *testing.T) {
	s := newTestSink(t, false)
	if err := s.AppendWindowReport(report("window-0", 0, 1.5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendWindowReport(report("window-0", 0, 9.9)); err != nil {
		t.Fatalf("replay must not error: %v", err)
	}
	rows := readAgg(t, s)
	if len(rows) != 1 || rows[0].EnergyKWh != 1.5 {
		t.Fatalf("replay altered the table: %+v", rows)
	}
}

func TestStrictModeRejectsDuplicate(t *testing.T) {
	s := newTestSink(t, true)
	if err := s.AppendWindowReport(report("window-0", 0, 1.5)); err != nil {
		t.Fatalf("append: %v", err)
	}
	err := s.AppendWindowReport(report("window-0", 0, 1.5))
	if !errors.Is(err, ErrDuplicateRun) {
		t.Fatalf("expected ErrDuplicateRun, got %v", err)
	}
}

func TestAppendEpochSummaryWritesDetailAndRow(t *testing.T) {
	s := newTestSink(t, false)
	summary := calib.EpochSummary{
		Epoch:       1,
		BatchStart:  model.NewTimestamp(sinkBase),
		BatchEnd:    model.NewTimestamp(sinkBase.Add(time.Hour)),
		TaskCount:   7,
		SampleCount: 61,
		Candidates:  []calib.CandidateScore{{Value: 0.5, MAPE: 0.01, Status: model.StatusOK}},
		WinnerFound: true,
		WinnerValue: 0.5,
		WinnerMAPE:  0.01,
		Published:   true,
	}
	if err := s.AppendEpochSummary(summary); err != nil {
		t.Fatalf("append epoch: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.outDir, "epochs", "epoch-1.json"))
	if err != nil {
		t.Fatalf("detail file: %v", err)
	}
	var got calib.EpochSummary
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("detail parse: %v", err)
	}
	if got.WinnerValue != 0.5 || len(got.Candidates) != 1 {
		t.Fatalf("detail content: %+v", got)
	}

	rows := readAgg(t, s)
	if len(rows) != 1 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].RunID != "epoch-1" || rows[0].WindowID != -1 {
		t.Fatalf("epoch row: %+v", rows[0])
	}
	if rows[0].Status != model.StatusOK || rows[0].TaskCount != 7 {
		t.Fatalf("epoch row detail: %+v", rows[0])
	}
}

func TestArchivePublishesAtomically(t *testing.T) {
	s := newTestSink(t, false)
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "output"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "output", "data.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Archive("window-0", src); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(s.RunDir("window-0"), "output", "data.txt"))
	if err != nil || string(got) != "payload" {
		t.Fatalf("archived file: %q err=%v", got, err)
	}
	if _, err := os.Stat(s.RunDir("window-0") + ".stage"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("staging directory left behind")
	}
}

func TestArchiveCachedRunRewritesMetadata(t *testing.T) {
	s := newTestSink(t, false)
	src := t.TempDir()
	md := opendc.Metadata{RunNumber: 4, SimulatedTime: "2024-05-01T00:05:00Z", TaskCount: 3, WallClockTime: "2024-05-01T10:00:00Z"}
	if err := opendc.WriteMetadata(src, md); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	if err := s.Archive("window-4", src); err != nil {
		t.Fatalf("archive source run: %v", err)
	}

	md.RunNumber = 5
	if err := s.ArchiveCachedRun("window-4", "window-5", md); err != nil {
		t.Fatalf("archive cached: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.RunDir("window-5"), "metadata.json"))
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	var got opendc.Metadata
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("metadata parse: %v", err)
	}
	if !got.Cached || got.RunNumber != 5 {
		t.Fatalf("cached metadata not rewritten: %+v", got)
	}

	// The source archive keeps its original descriptor.
	raw, _ = os.ReadFile(filepath.Join(s.RunDir("window-4"), "metadata.json"))
	var orig opendc.Metadata
	if err := json.Unmarshal(raw, &orig); err != nil {
		t.Fatalf("source metadata parse: %v", err)
	}
	if orig.Cached {
		t.Fatal("source archive metadata mutated")
	}
}

func TestArchiveCachedRunMissingSource(t *testing.T) {
	s := newTestSink(t, false)
	if err := s.ArchiveCachedRun("window-404", "window-405", opendc.Metadata{}); err == nil {
		t.Fatal("missing source archive must error")
	}
}
