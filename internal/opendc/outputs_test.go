// v1
// internal/opendc/outputs_test.go
package opendc

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/atlarge-research/opendt/internal/model"
)

func writeRows[T any](t *testing.T, path string, rows []T) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w := parquet.NewGenericWriter[T](f)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func rawOutputDir(t *testing.T, name string) (outputDir, rawDir string) {
	t.Helper()
	outputDir = t.TempDir()
	rawDir = filepath.Join(outputDir, name, "raw-output", "0", "seed=0")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return outputDir, rawDir
}

func TestParseResultsReducesOutputTree(t *testing.T) {
	outputDir, rawDir := rawOutputDir(t, "run_1")

	// 3.6 MJ total over three intervals is exactly 1 kWh.
	writeRows(t, filepath.Join(rawDir, "powerSource.parquet"), []powerRow{
		{Timestamp: 0, PowerDraw: 100, EnergyUsage: 1_200_000},
		{Timestamp: 150_000, PowerDraw: 250.04, EnergyUsage: 1_200_000},
		{Timestamp: 300_000, PowerDraw: 200, EnergyUsage: 1_200_000},
	})
	writeRows(t, filepath.Join(rawDir, "host.parquet"), []hostRow{
		{Timestamp: 0, CPUUtilization: 0.2},
		{Timestamp: 150_000, CPUUtilization: 0.6},
	})
	writeRows(t, filepath.Join(rawDir, "service.parquet"), []serviceRow{
		{Timestamp: 0},
		{Timestamp: 7_200_000},
	})

	res, err := parseResults(outputDir, "run_1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Status != model.StatusOK {
		t.Fatalf("status: %s", res.Status)
	}
	if res.EnergyKWh != 1.0 {
		t.Fatalf("energy: %f", res.EnergyKWh)
	}
	if res.MaxPowerW != 250.0 {
		t.Fatalf("max power rounding: %f", res.MaxPowerW)
	}
	if math.Abs(res.MeanCPUUtil-0.4) > 1e-12 {
		t.Fatalf("mean cpu: %f", res.MeanCPUUtil)
	}
	if res.RuntimeHours != 2.0 {
		t.Fatalf("runtime: %f", res.RuntimeHours)
	}
	if len(res.PowerSeries) != 3 || res.PowerSeries[1].TimeMs != 150_000 {
		t.Fatalf("power series: %+v", res.PowerSeries)
	}
	if len(res.CPUSeries) != 2 {
		t.Fatalf("cpu series: %+v", res.CPUSeries)
	}
}

func TestParseResultsMissingPowerSourceFails(t *testing.T) {
	outputDir, rawDir := rawOutputDir(t, "run_2")
	writeRows(t, filepath.Join(rawDir, "host.parquet"), []hostRow{{Timestamp: 0, CPUUtilization: 0.5}})

	if _, err := parseResults(outputDir, "run_2"); err == nil {
		t.Fatal("missing powerSource file must be an error")
	}
}

func TestParseResultsMissingOutputDirFails(t *testing.T) {
	if _, err := parseResults(t.TempDir(), "run_3"); err == nil {
		t.Fatal("absent raw-output tree must be an error")
	}
}

func TestParseResultsOptionalFilesTolerated(t *testing.T) {
	outputDir, rawDir := rawOutputDir(t, "run_4")
	writeRows(t, filepath.Join(rawDir, "powerSource.parquet"), []powerRow{
		{Timestamp: 0, PowerDraw: 50, EnergyUsage: 360_000},
	})

	res, err := parseResults(outputDir, "run_4")
	if err != nil {
		t.Fatalf("parse without host/service: %v", err)
	}
	if res.EnergyKWh != 0.1 || res.MeanCPUUtil != 0 || res.RuntimeHours != 0 {
		t.Fatalf("reduction: %+v", res)
	}
}

func TestRound(t *testing.T) {
	if got := round(1.23456, 3); got != 1.235 {
		t.Fatalf("round up: %f", got)
	}
	if got := round(1.23444, 3); got != 1.234 {
		t.Fatalf("round down: %f", got)
	}
	if got := round(2.0, 4); got != 2.0 {
		t.Fatalf("integral: %f", got)
	}
}
