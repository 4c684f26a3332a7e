// v3
// services/calibrator/internal/config.go
package internal

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type AppConfig struct {
	HTTPBind         string
	KafkaBrokers     []string
	TopicWorkload    string
	TopicPower       string
	TopicObserved    string
	TopicCalibrated  string
	TopicReplication int
	PropertiesPath   string
	OffsetsPath      string
	OutputDir        string
	RunID            string
	WorkerID         string
	OpenDCBin        string

	CalibrationEnabled bool
	ParamPath          string
	MinValue           float64
	MaxValue           float64
	LinspacePoints     int
	MaxParallelWorkers int
	MapeWindowMinutes  int
	ImprovementEpsilon float64

	PowerRetentionHours      int
	SubprocessTimeoutSeconds int
	ArchiveEnabled           bool
	SinkStrict               bool
}

func LoadEnvAndFiles() (*AppConfig, error) {
	c := &AppConfig{
		HTTPBind:         getenv("HTTP_BIND", ":8081"),
		KafkaBrokers:     split(getenv("KAFKA_BROKERS", ""), ","),
		TopicWorkload:    getenv("TOPIC_WORKLOAD", "dc.workload"),
		TopicPower:       getenv("TOPIC_POWER", "dc.power"),
		TopicObserved:    getenv("TOPIC_TOPOLOGY_OBSERVED", "dc.topology"),
		TopicCalibrated:  getenv("TOPIC_TOPOLOGY_CALIBRATED", "sim.topology"),
		TopicReplication: geti("TOPIC_REPLICATION", 1),
		PropertiesPath:   getenv("PROPERTIES_PATH", "./configs/calibrator.properties"),
		OffsetsPath:      getenv("OFFSETS_PATH", "./data/calibrator-offsets.json"),
		OutputDir:        getenv("OUTPUT_DIR", "./data/calibrator"),
		RunID:            getenv("RUN_ID", ""),
		WorkerID:         getenv("WORKER_ID", ""),
		OpenDCBin:        getenv("OPENDC_BIN", "/app/opendc/bin/OpenDCExperimentRunner/bin/OpenDCExperimentRunner"),

		CalibrationEnabled: false,
		LinspacePoints:     10,
		MaxParallelWorkers: 4,
		MapeWindowMinutes:  60,
		ImprovementEpsilon: 0,

		PowerRetentionHours:      24,
		SubprocessTimeoutSeconds: 120,
		ArchiveEnabled:           true,
		SinkStrict:               false,
	}
	if len(c.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS required")
	}
	if c.RunID != "" {
		c.OutputDir = filepath.Join(c.OutputDir, c.RunID)
	}
	if err := c.loadProperties(c.PropertiesPath); err != nil {
		return nil, err
	}
	if c.CalibrationEnabled {
		if c.ParamPath == "" {
			return nil, errors.New("calibration.paramPath required when calibration.enabled")
		}
		if !(c.MinValue < c.MaxValue) {
			return nil, fmt.Errorf("calibration bounds invalid: min %v must be < max %v", c.MinValue, c.MaxValue)
		}
	}
	return c, nil
}

func (c *AppConfig) ReloadProperties() error { return c.loadProperties(c.PropertiesPath) }

func (c *AppConfig) loadProperties(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch k {
		case "calibration.enabled":
			c.CalibrationEnabled = parseBool(v)
		case "calibration.paramPath":
			c.ParamPath = v
		case "calibration.minValue":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.MinValue = f
			}
		case "calibration.maxValue":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.MaxValue = f
			}
		case "calibration.linspacePoints":
			if i, err := strconv.Atoi(v); err == nil {
				c.LinspacePoints = i
			}
		case "calibration.maxParallelWorkers":
			if i, err := strconv.Atoi(v); err == nil {
				c.MaxParallelWorkers = i
			}
		case "calibration.mapeWindowMinutes":
			if i, err := strconv.Atoi(v); err == nil {
				c.MapeWindowMinutes = i
			}
		case "calibration.improvementEpsilon":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.ImprovementEpsilon = f
			}
		case "power.retentionHours":
			if i, err := strconv.Atoi(v); err == nil {
				c.PowerRetentionHours = i
			}
		case "sim.subprocessTimeoutSeconds":
			if i, err := strconv.Atoi(v); err == nil {
				c.SubprocessTimeoutSeconds = i
			}
		case "sink.archiveEnabled":
			c.ArchiveEnabled = parseBool(v)
		case "sink.strict":
			c.SinkStrict = parseBool(v)
		}
	}
	return s.Err()
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func geti(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return d
}

func split(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
