// v1
// services/simulator/internal/config_test.go
package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPBind != ":8080" {
		t.Fatalf("http bind: %s", c.HTTPBind)
	}
	if len(c.KafkaBrokers) != 1 || c.KafkaBrokers[0] != "kafka:9092" {
		t.Fatalf("brokers: %v", c.KafkaBrokers)
	}
	if c.TopicWorkload != "dc.workload" || c.TopicResults != "sim.results" {
		t.Fatalf("topics: %s %s", c.TopicWorkload, c.TopicResults)
	}
	if c.WindowWidthMinutes != 5 || c.MaxPendingWindows != 32 {
		t.Fatalf("window defaults: width=%d pending=%d", c.WindowWidthMinutes, c.MaxPendingWindows)
	}
	if !c.ArchiveEnabled || c.SinkStrict {
		t.Fatalf("sink defaults: archive=%v strict=%v", c.ArchiveEnabled, c.SinkStrict)
	}
}

func TestMissingBrokersRejected(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	if _, err := LoadEnvAndFiles(); err == nil {
		t.Fatal("empty broker list accepted")
	}
}

func TestPropertiesOverlayEnv(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "simulator.properties")
	content := "# tuning\n" +
		"window.widthMinutes = 10\n" +
		"cache.maxEntries=64\n" +
		"sim.subprocessTimeoutSeconds=30\n" +
		"sink.archiveEnabled=false\n" +
		"sink.strict=yes\n" +
		"malformed line without separator\n"
	if err := os.WriteFile(props, []byte(content), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("PROPERTIES_PATH", props)

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.KafkaBrokers) != 2 || c.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("broker split: %v", c.KafkaBrokers)
	}
	if c.WindowWidthMinutes != 10 || c.CacheMaxEntries != 64 {
		t.Fatalf("overlay: width=%d cache=%d", c.WindowWidthMinutes, c.CacheMaxEntries)
	}
	if c.SubprocessTimeoutSeconds != 30 {
		t.Fatalf("timeout: %d", c.SubprocessTimeoutSeconds)
	}
	if c.ArchiveEnabled || !c.SinkStrict {
		t.Fatalf("sink overlay: archive=%v strict=%v", c.ArchiveEnabled, c.SinkStrict)
	}
}

func TestInvalidWindowWidthRejected(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "simulator.properties")
	if err := os.WriteFile(props, []byte("window.widthMinutes=0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", props)
	if _, err := LoadEnvAndFiles(); err == nil {
		t.Fatal("zero window width accepted")
	}
}

func TestRunIDScopesOutputDir(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))
	t.Setenv("OUTPUT_DIR", "/data/out")
	t.Setenv("RUN_ID", "exp7")

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.OutputDir != filepath.Join("/data/out", "exp7") {
		t.Fatalf("output dir: %s", c.OutputDir)
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "simulator.properties")
	if err := os.WriteFile(props, []byte("window.widthMinutes=5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("PROPERTIES_PATH", props)

	c, err := LoadEnvAndFiles()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(props, []byte("window.widthMinutes=15\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := c.ReloadProperties(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.WindowWidthMinutes != 15 {
		t.Fatalf("reload missed change: %d", c.WindowWidthMinutes)
	}
}
