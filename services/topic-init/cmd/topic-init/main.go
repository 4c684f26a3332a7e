// v2
// services/topic-init/cmd/topic-init/main.go
//
// One-shot bootstrap for the digital-twin channels. Run it before the
// services so first startup does not race topic auto-creation: stream
// channels are plain topics, the topology channels are compacted so a
// late subscriber still sees the latest snapshot per key.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlarge-research/opendt/internal/logging"
	"github.com/atlarge-research/opendt/internal/plane"
)

func main() {
	brokersFlag := flag.String("brokers", getenv("KAFKA_BROKERS", ""), "Comma-separated list of Kafka brokers")
	replFlag := flag.Int("replication", geti("TOPIC_REPLICATION", 1), "Replication factor for all channels")
	workloadFlag := flag.String("workload-topic", getenv("TOPIC_WORKLOAD", "dc.workload"), "Workload stream channel")
	powerFlag := flag.String("power-topic", getenv("TOPIC_POWER", "dc.power"), "Power stream channel")
	observedFlag := flag.String("observed-topic", getenv("TOPIC_TOPOLOGY_OBSERVED", "dc.topology"), "Observed topology channel (compacted)")
	calibratedFlag := flag.String("calibrated-topic", getenv("TOPIC_TOPOLOGY_CALIBRATED", "sim.topology"), "Calibrated topology channel (compacted)")
	resultsFlag := flag.String("results-topic", getenv("TOPIC_RESULTS", "sim.results"), "Simulation results channel")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "Overall deadline for topic creation")
	flag.Parse()

	lg, logFile := logging.InitLogger("topic-init")
	defer func() { _ = logFile.Close() }()

	brokers := split(*brokersFlag)
	if len(brokers) == 0 {
		fmt.Println("KAFKA_BROKERS or --brokers must be provided")
		os.Exit(2)
	}
	if *replFlag <= 0 {
		fmt.Println("TOPIC_REPLICATION must be positive")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, *timeoutFlag)
	defer timeoutCancel()

	p, err := plane.New(brokers, *replFlag, nil, lg)
	if err != nil {
		lg.Error("plane init failed", "error", err)
		os.Exit(1)
	}
	specs := []plane.TopicSpec{
		{Topic: *workloadFlag},
		{Topic: *powerFlag},
		{Topic: *observedFlag, Compacted: true},
		{Topic: *calibratedFlag, Compacted: true},
		{Topic: *resultsFlag},
	}
	if err := p.EnsureTopics(ctx, specs); err != nil {
		lg.Error("topic bootstrap failed", "error", err)
		os.Exit(1)
	}
	lg.Info("channels ready",
		"workload", *workloadFlag,
		"power", *powerFlag,
		"observed", *observedFlag,
		"calibrated", *calibratedFlag,
		"results", *resultsFlag,
		"replication", *replFlag,
	)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func geti(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return d
}

func split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
