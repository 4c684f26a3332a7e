// v2
// internal/opendc/inputs.go
//
// Input-file builders for one simulator invocation: the workload parquet
// pair, the topology JSON and the experiment descriptor. Column names
// and types follow what the simulator's trace reader requires, all
// columns non-nullable.
package opendc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/atlarge-research/opendt/internal/model"
)

type taskRow struct {
	ID             int32   `parquet:"id"`
	SubmissionTime int64   `parquet:"submission_time,timestamp(millisecond)"`
	Duration       int64   `parquet:"duration"`
	CPUCount       int32   `parquet:"cpu_count"`
	CPUCapacity    float64 `parquet:"cpu_capacity"`
	MemCapacity    int64   `parquet:"mem_capacity"`
}

type fragmentRow struct {
	ID       int32   `parquet:"id"`
	TaskID   int32   `parquet:"task_id"`
	Duration int64   `parquet:"duration"`
	CPUCount int32   `parquet:"cpu_count"`
	CPUUsage float64 `parquet:"cpu_usage"`
}

func writeTasksParquet(tasks []model.Task, path string) error {
	rows := make([]taskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow{
			ID:             int32(t.ID),
			SubmissionTime: t.SubmissionTime.UnixMilli(),
			Duration:       t.DurationMs,
			CPUCount:       t.CPUCount,
			CPUCapacity:    t.CPUCapacityMHz,
			MemCapacity:    t.MemCapacityMB,
		})
	}
	return writeParquet(path, rows)
}

func writeFragmentsParquet(tasks []model.Task, path string) error {
	var rows []fragmentRow
	for _, t := range tasks {
		for _, f := range t.Fragments {
			rows = append(rows, fragmentRow{
				ID:       int32(f.ID),
				TaskID:   int32(f.TaskID),
				Duration: f.DurationMs,
				CPUCount: f.CPUCount,
				CPUUsage: f.CPUUsage,
			})
		}
	}
	return writeParquet(path, rows)
}

func writeParquet[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := parquet.NewGenericWriter[T](f)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Close()
}

func writeTopologyJSON(topo model.Topology, path string) error {
	raw, err := json.MarshalIndent(topo, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

type experimentTopology struct {
	PathToFile string `json:"pathToFile"`
}

type experimentWorkload struct {
	PathToFile string `json:"pathToFile"`
	Type       string `json:"type"`
}

type computeExportConfig struct {
	PowerSourceExportColumns []string `json:"powerSourceExportColumns"`
}

type exportModel struct {
	ExportInterval      int                 `json:"exportInterval"`
	FilesToExport       []string            `json:"filesToExport"`
	ComputeExportConfig computeExportConfig `json:"computeExportConfig"`
}

type experiment struct {
	Name         string               `json:"name"`
	Topologies   []experimentTopology `json:"topologies"`
	Workloads    []experimentWorkload `json:"workloads"`
	OutputFolder string               `json:"outputFolder"`
	ExportModels []exportModel        `json:"exportModels"`
}

func writeExperimentJSON(name, workloadDir, topologyPath, outputFolder, path string) error {
	exp := experiment{
		Name:         name,
		Topologies:   []experimentTopology{{PathToFile: topologyPath}},
		Workloads:    []experimentWorkload{{PathToFile: workloadDir, Type: "ComputeWorkload"}},
		OutputFolder: outputFolder,
		ExportModels: []exportModel{{
			ExportInterval: 150,
			FilesToExport:  []string{"powerSource", "host", "task", "service"},
			ComputeExportConfig: computeExportConfig{
				PowerSourceExportColumns: []string{"energy_usage", "power_draw"},
			},
		}},
	}
	raw, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
