package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stop reasons
const (
	ReasonManual      = "manual"
	ReasonSilence     = "silence"
	ReasonFinalResult = "final_result"
	ReasonStreamError = "stream_error"
	ReasonReset       = "reset"
)

// Setup stages
const (
	StagePermissions = "permissions"
	StageSession     = "session"
	StageOutput      = "output"
	StageRecognition = "recognition"
	StageEngine      = "engine"
)

// Sinks
const (
	SinkRecognition = "recognition"
	SinkFile        = "file"
)

// Metrics contains all Prometheus metrics for the recording engine
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec
	SetupFailures   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	State           prometheus.Gauge

	// Capture metrics
	BuffersCaptured prometheus.Counter
	BuffersDropped  *prometheus.CounterVec
	Level           prometheus.Gauge

	// Recognition metrics
	Results *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg.
// A nil reg registers nothing, which keeps independent instances usable in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ezs2t_sessions_started_total",
			Help: "Total number of recording sessions that reached the recording state",
		}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezs2t_sessions_stopped_total",
			Help: "Total number of recording sessions stopped, by reason",
		}, []string{"reason"}),
		SetupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezs2t_setup_failures_total",
			Help: "Total number of failed session starts, by stage",
		}, []string{"stage"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ezs2t_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ezs2t_state",
			Help: "Current controller state (0=idle, 1=preparing, 2=recording, 3=stopping, 4=failed)",
		}),

		BuffersCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "ezs2t_buffers_captured_total",
			Help: "Total number of audio buffers delivered by the capture engine",
		}),
		BuffersDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezs2t_buffers_dropped_total",
			Help: "Total number of audio buffers dropped because a sink was full, by sink",
		}, []string{"sink"}),
		Level: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ezs2t_input_level",
			Help: "Most recent normalized input level in [0, 1]",
		}),

		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezs2t_recognition_results_total",
			Help: "Total number of recognition results delivered, by kind",
		}, []string{"kind"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ezs2t_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "endpoint", "status"}),
	}
}

// RecordStop records a finished session
func (m *Metrics) RecordStop(reason string, seconds float64) {
	m.SessionsStopped.WithLabelValues(reason).Inc()
	if seconds > 0 {
		m.SessionDuration.Observe(seconds)
	}
}

// RecordSetupFailure records a failed start at stage
func (m *Metrics) RecordSetupFailure(stage string) {
	m.SetupFailures.WithLabelValues(stage).Inc()
}

// RecordResult records a delivered recognition result
func (m *Metrics) RecordResult(final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Results.WithLabelValues(kind).Inc()
}

// RecordDropped adds n dropped buffers for sink
func (m *Metrics) RecordDropped(sink string, n uint64) {
	if n == 0 {
		return
	}
	m.BuffersDropped.WithLabelValues(sink).Add(float64(n))
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
}
