// v3
// services/simulator/internal/config.go
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
	TopicResults     string
	TopicReplication int
	PropertiesPath   string
	OffsetsPath      string
	OutputDir        string
	RunID            string
	WorkerID         string
	OpenDCBin        string

	WindowWidthMinutes       int
	HeartbeatCadenceMinutes  int
	CacheMaxEntries          int
	SubprocessTimeoutSeconds int
	MaxPendingWindows        int
	ArchiveEnabled           bool
	SinkStrict               bool
}

func LoadEnvAndFiles() (*AppConfig, error) {
	c := &AppConfig{
		HTTPBind:         getenv("HTTP_BIND", ":8080"),
		KafkaBrokers:     split(getenv("KAFKA_BROKERS", ""), ","),
		TopicWorkload:    getenv("TOPIC_WORKLOAD", "dc.workload"),
		TopicPower:       getenv("TOPIC_POWER", "dc.power"),
		TopicObserved:    getenv("TOPIC_TOPOLOGY_OBSERVED", "dc.topology"),
		TopicCalibrated:  getenv("TOPIC_TOPOLOGY_CALIBRATED", "sim.topology"),
		TopicResults:     getenv("TOPIC_RESULTS", "sim.results"),
		TopicReplication: geti("TOPIC_REPLICATION", 1),
		PropertiesPath:   getenv("PROPERTIES_PATH", "./configs/simulator.properties"),
		OffsetsPath:      getenv("OFFSETS_PATH", "./data/simulator-offsets.json"),
		OutputDir:        getenv("OUTPUT_DIR", "./data/simulator"),
		RunID:            getenv("RUN_ID", ""),
		WorkerID:         getenv("WORKER_ID", ""),
		OpenDCBin:        getenv("OPENDC_BIN", "/app/opendc/bin/OpenDCExperimentRunner/bin/OpenDCExperimentRunner"),

		WindowWidthMinutes:       5,
		HeartbeatCadenceMinutes:  1,
		CacheMaxEntries:          1024,
		SubprocessTimeoutSeconds: 120,
		MaxPendingWindows:        32,
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
	if c.WindowWidthMinutes < 1 {
		return nil, fmt.Errorf("window.widthMinutes must be >= 1, got %d", c.WindowWidthMinutes)
	}
	if c.MaxPendingWindows < 1 {
		return nil, fmt.Errorf("sim.maxPendingWindows must be >= 1, got %d", c.MaxPendingWindows)
	}
	return c, nil
}

func (c *AppConfig) ReloadProperties() error { return c.loadProperties(c.PropertiesPath) }

// loadProperties overlays the recognized keys from the properties file.
// A missing file leaves the defaults in place.
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
		case "window.widthMinutes":
			if i, err := strconv.Atoi(v); err == nil {
				c.WindowWidthMinutes = i
			}
		case "heartbeat.cadenceMinutes":
			if i, err := strconv.Atoi(v); err == nil {
				c.HeartbeatCadenceMinutes = i
			}
		case "cache.maxEntries":
			if i, err := strconv.Atoi(v); err == nil {
				c.CacheMaxEntries = i
			}
		case "sim.subprocessTimeoutSeconds":
			if i, err := strconv.Atoi(v); err == nil {
				c.SubprocessTimeoutSeconds = i
			}
		case "sim.maxPendingWindows":
			if i, err := strconv.Atoi(v); err == nil {
				c.MaxPendingWindows = i
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
