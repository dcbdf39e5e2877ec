// Package metrics exports receiver counters and gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "video_receiver"

var (
	pipelineStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_starts_total",
		Help:      "Graph build attempts by transport and result",
	}, []string{"transport", "result"})

	teardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_teardowns_total",
		Help:      "Graph teardowns by reason",
	}, []string{"reason"})

	graphErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graph_errors_total",
		Help:      "Runtime graph errors by category",
	}, []string{"category"})

	probeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_attempts_total",
		Help:      "Server reachability probes by result",
	}, []string{"result"})

	recordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_started_total",
		Help:      "Recording branches attached",
	})

	recordingsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_finalized_total",
		Help:      "Recording branches finalized, clean or forced",
	}, []string{"clean"})

	filesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_files_evicted_total",
		Help:      "Recordings deleted to stay under the storage quota",
	})

	bytesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_bytes_evicted_total",
		Help:      "Bytes deleted to stay under the storage quota",
	})

	jitterStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jitter_buffer_packets",
		Help:      "Jitter buffer packet counters as last reported",
	}, []string{"kind"})

	jitterPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jitter_buffer_fill_percent",
		Help:      "Jitter buffer fill level",
	})

	frameAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "frame_age_seconds",
		Help:      "Time since the last decoded frame reached the surface",
	})

	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_decoded_total",
		Help:      "Decoded frames delivered to the surface",
	})

	controllerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "controller_state",
		Help:      "1 for the controller's current state, 0 otherwise",
	}, []string{"state"})
)

// Jitter buffer counter kinds.
const (
	JitterPushed     = "pushed"
	JitterLost       = "lost"
	JitterLate       = "late"
	JitterDuplicates = "duplicates"
)

// IncPipelineStart records a graph build outcome.
func IncPipelineStart(transport string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	pipelineStarts.WithLabelValues(transport, result).Inc()
}

// IncTeardown records a teardown and why it happened.
func IncTeardown(reason string) {
	teardowns.WithLabelValues(reason).Inc()
}

// IncGraphError records a runtime error by category.
func IncGraphError(category string) {
	graphErrors.WithLabelValues(category).Inc()
}

// IncProbeAttempt records a probe result.
func IncProbeAttempt(result string) {
	probeAttempts.WithLabelValues(result).Inc()
}

// IncRecordingStarted records an attached branch.
func IncRecordingStarted() {
	recordingsStarted.Inc()
}

// IncRecordingFinalized records a finalized branch.
func IncRecordingFinalized(clean bool) {
	label := "false"
	if clean {
		label = "true"
	}
	recordingsFinalized.WithLabelValues(label).Inc()
}

// AddEvicted records retention deletions.
func AddEvicted(files int, bytes int64) {
	filesEvicted.Add(float64(files))
	bytesEvicted.Add(float64(bytes))
}

// SetJitterStat sets one jitter buffer counter.
func SetJitterStat(kind string, value uint64) {
	jitterStats.WithLabelValues(kind).Set(float64(value))
}

// SetJitterPercent sets the jitter buffer fill level.
func SetJitterPercent(percent int) {
	jitterPercent.Set(float64(percent))
}

// SetFrameAge sets the time since the last decoded frame.
func SetFrameAge(age time.Duration) {
	frameAge.Set(age.Seconds())
}

// IncFramesDecoded counts one decoded frame.
func IncFramesDecoded() {
	framesDecoded.Inc()
}

// SetState marks state as the controller's current state among all.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		controllerState.WithLabelValues(s).Set(v)
	}
}
