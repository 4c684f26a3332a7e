// v1
// services/calibrator/internal/config_test.go
package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsDisabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPBind != ":8081" {
		t.Fatalf("http bind: %s", c.HTTPBind)
	}
	if c.CalibrationEnabled {
		t.Fatal("calibration enabled by default")
	}
	if c.LinspacePoints != 10 || c.MaxParallelWorkers != 4 || c.MapeWindowMinutes != 60 {
		t.Fatalf("calibration defaults: %d %d %d", c.LinspacePoints, c.MaxParallelWorkers, c.MapeWindowMinutes)
	}
	if c.PowerRetentionHours != 24 {
		t.Fatalf("retention default: %d", c.PowerRetentionHours)
	}
}

func TestEnabledWithoutParamPathRejected(t *testing.T) {
	props := filepath.Join(t.TempDir(), "calibrator.properties")
	if err := os.WriteFile(props, []byte("calibration.enabled=true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", props)
	if _, err := LoadEnvAndFiles(); err == nil {
		t.Fatal("enabled calibration without a parameter path accepted")
	}
}

func TestEnabledWithInvertedBoundsRejected(t *testing.T) {
	props := filepath.Join(t.TempDir(), "calibrator.properties")
	content := "calibration.enabled=true\n" +
		"calibration.paramPath=clusters[*].hosts[*].cpuPowerModel.maxPower\n" +
		"calibration.minValue=500\n" +
		"calibration.maxValue=100\n"
	if err := os.WriteFile(props, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", props)
	if _, err := LoadEnvAndFiles(); err == nil {
		t.Fatal("inverted bounds accepted")
	}
}

func TestFullCalibrationOverlay(t *testing.T) {
	props := filepath.Join(t.TempDir(), "calibrator.properties")
	content := "calibration.enabled=true\n" +
		"calibration.paramPath=clusters[*].hosts[*].cpuPowerModel.asymUtil\n" +
		"calibration.minValue=0.1\n" +
		"calibration.maxValue=0.9\n" +
		"calibration.linspacePoints=5\n" +
		"calibration.maxParallelWorkers=2\n" +
		"calibration.mapeWindowMinutes=30\n" +
		"calibration.improvementEpsilon=0.005\n" +
		"power.retentionHours=6\n"
	if err := os.WriteFile(props, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", props)

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.CalibrationEnabled || c.ParamPath != "clusters[*].hosts[*].cpuPowerModel.asymUtil" {
		t.Fatalf("param path: enabled=%v path=%s", c.CalibrationEnabled, c.ParamPath)
	}
	if c.MinValue != 0.1 || c.MaxValue != 0.9 || c.LinspacePoints != 5 {
		t.Fatalf("sweep: %v %v %d", c.MinValue, c.MaxValue, c.LinspacePoints)
	}
	if c.MaxParallelWorkers != 2 || c.MapeWindowMinutes != 30 {
		t.Fatalf("workers/window: %d %d", c.MaxParallelWorkers, c.MapeWindowMinutes)
	}
	if c.ImprovementEpsilon != 0.005 || c.PowerRetentionHours != 6 {
		t.Fatalf("epsilon/retention: %v %d", c.ImprovementEpsilon, c.PowerRetentionHours)
	}
}
