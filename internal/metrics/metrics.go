// Package metrics exposes Prometheus collectors for the compression pipeline.
package metrics

import (
	"strconv"

	"photo-squeeze-go/internal/compressor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	ResultReached      = "reached"
	ResultBestEffort   = "best_effort"
	ResultUntargeted   = "untargeted"
	ResultInvalidInput = "invalid_input"
	ResultCodecFailure = "codec_failure"
	ResultCancelled    = "cancelled"
)

var (
	// PassesTotal counts executed passes.
	// Labels: rung (0-4)
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photosqueeze",
			Subsystem: "scheduler",
			Name:      "passes_total",
			Help:      "Total number of codec passes executed, by ladder rung",
		},
		[]string{"rung"},
	)

	// PassDuration tracks how long a single codec pass takes.
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photosqueeze",
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of codec passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// OutcomesTotal counts finished invocations.
	// Labels: result (reached, best_effort, untargeted, invalid_input, codec_failure, cancelled)
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photosqueeze",
			Subsystem: "scheduler",
			Name:      "outcomes_total",
			Help:      "Total number of compression invocations by result",
		},
		[]string{"result"},
	)

	// BytesSaved accumulates input minus output bytes for successful runs.
	BytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "photosqueeze",
			Name:      "bytes_saved_total",
			Help:      "Total bytes saved across successful compressions",
		},
	)

	// StoredResults is the number of result handles currently held.
	StoredResults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photosqueeze",
			Subsystem: "store",
			Name:      "results",
			Help:      "Number of compressed results currently held for download",
		},
	)
)

// ObservePass records a completed pass. It matches compressor.PassObserver.
func ObservePass(ev compressor.PassEvent) {
	PassesTotal.WithLabelValues(strconv.Itoa(ev.Index)).Inc()
	PassDuration.Observe(ev.Duration.Seconds())
}

// ObserveOutcome records a successful invocation.
func ObserveOutcome(originalSize int64, out compressor.Outcome) {
	OutcomesTotal.WithLabelValues(OutcomeResult(out)).Inc()
	if saved := originalSize - out.FinalResult.Size; saved > 0 {
		BytesSaved.Add(float64(saved))
	}
}

// ObserveFailure records an invocation that returned an error.
func ObserveFailure(result string) {
	OutcomesTotal.WithLabelValues(result).Inc()
}

// OutcomeResult maps an outcome to its result label.
func OutcomeResult(out compressor.Outcome) string {
	switch {
	case !out.TargetEnabled:
		return ResultUntargeted
	case out.ReachedTarget:
		return ResultReached
	default:
		return ResultBestEffort
	}
}
