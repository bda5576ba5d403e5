package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame intake results.
const (
	FrameReference = "reference"
	FrameTracked   = "tracked"
	FrameFailed    = "failed"
	FrameDropped   = "dropped"
)

// Exposure cycle outcomes.
const (
	ExposureCompleted = "completed"
	ExposureTimeout   = "timeout"
	ExposureAborted   = "aborted"
	ExposureFailed    = "failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"agent", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guidectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidectl",
			Subsystem: "intake",
			Name:      "frames_total",
			Help:      "Frames handled by the intake worker, by result.",
		},
		[]string{"agent", "algorithm", "result"},
	)
	digestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guidectl",
			Subsystem: "intake",
			Name:      "digest_duration_seconds",
			Help:      "Time spent computing a frame digest and drift.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"agent", "algorithm"},
	)
	driftPixels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guidectl",
			Subsystem: "guider",
			Name:      "drift_pixels",
			Help:      "Latest drift against the reference frame.",
		},
		[]string{"agent", "axis"},
	)
	processTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidectl",
			Subsystem: "guider",
			Name:      "process_transitions_total",
			Help:      "Process state transitions, by mode and resulting state.",
		},
		[]string{"agent", "mode", "state"},
	)
	exposureCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidectl",
			Subsystem: "guider",
			Name:      "exposure_cycles_total",
			Help:      "Exposure cycles, by outcome.",
		},
		[]string{"agent", "mode", "outcome"},
	)
	guidePulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidectl",
			Subsystem: "guider",
			Name:      "guide_pulses_total",
			Help:      "Guide pulses issued to the guider device.",
		},
		[]string{"agent"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesTotal,
			digestDuration,
			driftPixels,
			processTransitions,
			exposureCycles,
			guidePulses,
		)
	})
}

func RecordHTTPRequest(agent, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(agent, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(agent, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(agent, algorithm, result string, duration time.Duration) {
	RegisterMetrics()
	framesTotal.WithLabelValues(agent, algorithm, result).Inc()
	if result == FrameTracked || result == FrameReference {
		digestDuration.WithLabelValues(agent, algorithm).Observe(duration.Seconds())
	}
}

func RecordDrift(agent string, x, y float64) {
	RegisterMetrics()
	driftPixels.WithLabelValues(agent, "x").Set(x)
	driftPixels.WithLabelValues(agent, "y").Set(y)
}

func RecordProcessTransition(agent, mode, state string) {
	RegisterMetrics()
	processTransitions.WithLabelValues(agent, mode, state).Inc()
}

func RecordExposureCycle(agent, mode, outcome string) {
	RegisterMetrics()
	exposureCycles.WithLabelValues(agent, mode, outcome).Inc()
}

func RecordGuidePulse(agent string) {
	RegisterMetrics()
	guidePulses.WithLabelValues(agent).Inc()
}
