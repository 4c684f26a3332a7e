// v1
// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors registered on the default registry; both services share the
// same names and select by label.
var (
	InvalidEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendt_invalid_events_total",
		Help: "Malformed or late messages dropped at ingress.",
	}, []string{"channel", "reason"})

	SimInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendt_sim_invocations_total",
		Help: "External simulator invocations by outcome.",
	}, []string{"outcome"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendt_result_cache_hits_total",
		Help: "Windows satisfied from the result cache.",
	})

	IntegrityWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendt_integrity_warnings_total",
		Help: "Output parse failures after a clean exit and stale cache writes.",
	})

	PendingWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opendt_pending_windows",
		Help: "Closed windows awaiting simulation (backpressure depth).",
	})

	WindowsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opendt_windows_closed_total",
		Help: "Windows transitioned out of the OPEN state.",
	})

	CalibrationEpochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opendt_calibration_epochs_total",
		Help: "Calibration epochs by outcome (published, unchanged, failed).",
	}, []string{"outcome"})

	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opendt_watermark_seconds",
		Help: "Event-time watermark as a unix timestamp.",
	})
)
