// v1
// services/feeder/cmd/feeder/main.go
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
	"github.com/atlarge-research/opendt/services/feeder/internal"
)

func main() {
	brokersFlag := flag.String("brokers", getenv("KAFKA_BROKERS", ""), "Comma-separated list of Kafka brokers")
	intervalFlag := flag.Duration("interval", 2*time.Second, "Wall-clock time per simulated minute")
	burstFlag := flag.Int("max-burst", 5, "Maximum tasks submitted per simulated minute")
	seedFlag := flag.Int64("seed", 42, "Trace generator seed")
	startFlag := flag.String("start", "", "Event-time start (RFC3339, default now)")
	flag.Parse()

	lg, logFile := logging.InitLogger("feeder")
	defer func() { _ = logFile.Close() }()

	brokers := split(*brokersFlag)
	if len(brokers) == 0 {
		fmt.Println("KAFKA_BROKERS or --brokers must be provided")
		os.Exit(2)
	}
	start := time.Now().UTC()
	if *startFlag != "" {
		t, err := time.Parse(time.RFC3339, *startFlag)
		if err != nil {
			fmt.Printf("invalid --start: %v\n", err)
			os.Exit(2)
		}
		start = t
	}

	p, err := plane.New(brokers, 1, nil, lg)
	if err != nil {
		lg.Error("plane init failed", "error", err)
		os.Exit(1)
	}
	topics := internal.Topics{
		Workload: getenv("TOPIC_WORKLOAD", "dc.workload"),
		Power:    getenv("TOPIC_POWER", "dc.power"),
		Observed: getenv("TOPIC_TOPOLOGY_OBSERVED", "dc.topology"),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f := internal.NewFeeder(p, topics, start, *intervalFlag, *burstFlag, *seedFlag, lg)
	if err := f.Start(ctx); err != nil {
		lg.Error("feeder start failed", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()
	f.Stop()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
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
