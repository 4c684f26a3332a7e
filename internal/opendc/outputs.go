// v2
// internal/opendc/outputs.go
package opendc

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/atlarge-research/opendt/internal/model"
)

type powerRow struct {
	Timestamp   int64   `parquet:"timestamp,optional"`
	PowerDraw   float64 `parquet:"power_draw,optional"`
	EnergyUsage float64 `parquet:"energy_usage,optional"`
}

type hostRow struct {
	Timestamp      int64   `parquet:"timestamp,optional"`
	CPUUtilization float64 `parquet:"cpu_utilization,optional"`
}

type serviceRow struct {
	Timestamp int64 `parquet:"timestamp,optional"`
}

// parseResults reads the simulator's raw output tree under outputDir and
// reduces it to a SimulationResult. A missing powerSource file after a
// clean exit is an integrity failure surfaced to the caller.
func parseResults(outputDir, experimentName string) (model.SimulationResult, error) {
	rawDir := filepath.Join(outputDir, experimentName, "raw-output", "0", "seed=0")
	if _, err := os.Stat(rawDir); err != nil {
		return model.SimulationResult{}, fmt.Errorf("output directory %s: %w", rawDir, err)
	}

	powerRows, err := readParquet[powerRow](filepath.Join(rawDir, "powerSource.parquet"))
	if err != nil {
		return model.SimulationResult{}, fmt.Errorf("powerSource.parquet: %w", err)
	}

	res := model.SimulationResult{Status: model.StatusOK}
	var energyJ float64
	for _, r := range powerRows {
		res.PowerSeries = append(res.PowerSeries, model.SeriesPoint{TimeMs: r.Timestamp, Value: r.PowerDraw})
		energyJ += r.EnergyUsage
		if r.PowerDraw > res.MaxPowerW {
			res.MaxPowerW = r.PowerDraw
		}
	}
	res.EnergyKWh = round(energyJ/3_600_000, 4)
	res.MaxPowerW = round(res.MaxPowerW, 1)

	if hostRows, err := readParquet[hostRow](filepath.Join(rawDir, "host.parquet")); err == nil && len(hostRows) > 0 {
		var sum float64
		for _, r := range hostRows {
			res.CPUSeries = append(res.CPUSeries, model.SeriesPoint{TimeMs: r.Timestamp, Value: r.CPUUtilization})
			sum += r.CPUUtilization
		}
		res.MeanCPUUtil = round(sum/float64(len(hostRows)), 3)
	}

	if svcRows, err := readParquet[serviceRow](filepath.Join(rawDir, "service.parquet")); err == nil && len(svcRows) > 0 {
		lo, hi := svcRows[0].Timestamp, svcRows[0].Timestamp
		for _, r := range svcRows {
			if r.Timestamp < lo {
				lo = r.Timestamp
			}
			if r.Timestamp > hi {
				hi = r.Timestamp
			}
		}
		res.RuntimeHours = round(float64(hi-lo)/(1000*3600), 2)
	}

	return res, nil
}

func readParquet[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
