// v5
// internal/opendc/runner.go
//
// Driver for the external OpenDC ExperimentRunner binary. One Run call
// owns one run directory: it lays down the input files, invokes the
// binary with a hard deadline, and reduces the output parquet tree to a
// SimulationResult. Invocation failures never propagate as errors; the
// caller receives a status=error result and keeps the pipeline moving.
package opendc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
)

const (
	// DefaultTimeout bounds one simulator invocation.
	DefaultTimeout = 120 * time.Second

	// killGrace is how long the binary gets between SIGTERM and SIGKILL.
	killGrace = 10 * time.Second
)

type Runner struct {
	binPath  string
	timeout  time.Duration
	javaHome string
	lg       *slog.Logger
}

func NewRunner(binPath string, timeout time.Duration, lg *slog.Logger) (*Runner, error) {
	info, err := os.Stat(binPath)
	if err != nil {
		return nil, fmt.Errorf("simulator binary %s: %w", binPath, err)
	}
	if info.Mode()&0o111 == 0 {
		lg.Warn("simulator binary not executable, fixing permissions", "path", binPath)
		if err := os.Chmod(binPath, 0o755); err != nil {
			return nil, fmt.Errorf("chmod simulator binary: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	javaHome, err := DetectJavaHome()
	if err != nil {
		return nil, err
	}
	lg.Info("simulator runner ready", "bin", binPath, "javaHome", javaHome, "timeout", timeout.String())
	return &Runner{binPath: binPath, timeout: timeout, javaHome: javaHome, lg: lg}, nil
}

// Metadata is the per-run descriptor written inside the run directory.
// Cache hits rewrite it with Cached=true and a fresh wall clock.
type Metadata struct {
	RunNumber     int     `json:"run_number"`
	SimulatedTime string  `json:"simulated_time"`
	LastTaskTime  *string `json:"last_task_time"`
	TaskCount     int     `json:"task_count"`
	WallClockTime string  `json:"wall_clock_time"`
	Cached        bool    `json:"cached"`
}

func WriteMetadata(runDir string, md Metadata) error {
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, "metadata.json"), raw, 0o644)
}

// Run executes one simulation in runDir. Inputs go to runDir/input, the
// binary writes to runDir/output, and metadata.json lands in runDir
// itself.
func (r *Runner) Run(ctx context.Context, tasks []model.Task, topo model.Topology, runDir string, runNumber int, simulatedTime model.Timestamp) model.SimulationResult {
	name := fmt.Sprintf("run_%d", runNumber)
	if len(tasks) == 0 {
		r.lg.Info("empty workload, skipping invocation", "run", name)
		metrics.SimInvocations.WithLabelValues("skipped").Inc()
		return model.SimulationResult{Status: model.StatusOK}
	}
	r.lg.Info("simulation start", "run", name, "tasks", len(tasks))

	inputDir := filepath.Join(runDir, "input")
	outputDir := filepath.Join(runDir, "output")
	workloadDir := filepath.Join(inputDir, "workload")
	for _, d := range []string{workloadDir, outputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return r.fail(name, fmt.Sprintf("mkdir %s: %v", d, err))
		}
	}

	if err := writeTasksParquet(tasks, filepath.Join(workloadDir, "tasks.parquet")); err != nil {
		return r.fail(name, err.Error())
	}
	if err := writeFragmentsParquet(tasks, filepath.Join(workloadDir, "fragments.parquet")); err != nil {
		return r.fail(name, err.Error())
	}
	topoFile := filepath.Join(inputDir, "topology.json")
	if err := writeTopologyJSON(topo, topoFile); err != nil {
		return r.fail(name, err.Error())
	}
	expFile := filepath.Join(inputDir, "experiment.json")
	if err := writeExperimentJSON(name, workloadDir, topoFile, outputDir, expFile); err != nil {
		return r.fail(name, err.Error())
	}

	if err := r.execute(ctx, expFile); err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.SimInvocations.WithLabelValues(outcome).Inc()
		r.lg.Error("simulation failed", "run", name, "error", err)
		return model.ErrorResult(err.Error())
	}

	res, err := parseResults(outputDir, name)
	if err != nil {
		metrics.SimInvocations.WithLabelValues("error").Inc()
		metrics.IntegrityWarnings.Inc()
		r.lg.Error("simulation output unparseable after clean exit", "run", name, "error", err)
		return model.ErrorResult(err.Error())
	}

	md := Metadata{
		RunNumber:     runNumber,
		SimulatedTime: simulatedTime.UTC().Format(time.RFC3339),
		TaskCount:     len(tasks),
		WallClockTime: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	if len(tasks) > 0 {
		last := tasks[len(tasks)-1].SubmissionTime.UTC().Format(time.RFC3339)
		md.LastTaskTime = &last
	}
	if err := WriteMetadata(runDir, md); err != nil {
		r.lg.Warn("metadata write", "run", name, "error", err)
	}

	metrics.SimInvocations.WithLabelValues("ok").Inc()
	r.lg.Info("simulation complete", "run", name, "energyKWh", res.EnergyKWh, "points", len(res.PowerSeries))
	return res
}

func (r *Runner) fail(name, msg string) model.SimulationResult {
	metrics.SimInvocations.WithLabelValues("error").Inc()
	r.lg.Error("simulation setup failed", "run", name, "error", msg)
	return model.ErrorResult(msg)
}

func (r *Runner) execute(ctx context.Context, experimentFile string) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binPath, "--experiment-path", experimentFile)
	cmd.Env = append(os.Environ(), "JAVA_HOME="+r.javaHome)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On deadline send SIGTERM, escalate to SIGKILL after the grace
	// period so a hung JVM cannot pin the worker.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	if runCtx.Err() != nil {
		return fmt.Errorf("simulator timed out after %s: %w", r.timeout, context.DeadlineExceeded)
	}
	if err != nil {
		msg := tailMessage(stderr.String(), stdout.String())
		if msg == "" {
			return fmt.Errorf("simulator: %w", err)
		}
		return fmt.Errorf("simulator: %w: %s", err, msg)
	}
	return nil
}

const errTailBytes = 4096

// tailMessage keeps the last errTailBytes of stderr (stdout when stderr
// is empty); the end of the output is where the JVM prints its cause.
func tailMessage(stderr, stdout string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if len(msg) > errTailBytes {
		msg = msg[len(msg)-errTailBytes:]
	}
	return msg
}
