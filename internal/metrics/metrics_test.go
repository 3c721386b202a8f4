package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SessionsStarted.Inc()
	m.RecordStop(ReasonSilence, 2.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, want := range []string{
		"ezs2t_sessions_started_total",
		"ezs2t_sessions_stopped_total",
		"ezs2t_session_duration_seconds",
		"ezs2t_state",
	} {
		if !names[want] {
			t.Errorf("Expected metric %s to be registered", want)
		}
	}
}

func TestNilRegistererAllowsMultipleInstances(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)

	a.SessionsStarted.Inc()

	if got := testutil.ToFloat64(a.SessionsStarted); got != 1 {
		t.Errorf("Expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(b.SessionsStarted); got != 0 {
		t.Errorf("Expected instances to be independent, got %v", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordStop(ReasonManual, 1)
	m.RecordStop(ReasonManual, 0)
	m.RecordSetupFailure(StageEngine)
	m.RecordResult(false)
	m.RecordResult(false)
	m.RecordResult(true)
	m.RecordDropped(SinkFile, 3)
	m.RecordDropped(SinkRecognition, 0)
	m.RecordHTTPRequest("GET", "/api/status", "200")

	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"stopped manual", testutil.ToFloat64(m.SessionsStopped.WithLabelValues(ReasonManual)), 2},
		{"setup engine", testutil.ToFloat64(m.SetupFailures.WithLabelValues(StageEngine)), 1},
		{"partial results", testutil.ToFloat64(m.Results.WithLabelValues("partial")), 2},
		{"final results", testutil.ToFloat64(m.Results.WithLabelValues("final")), 1},
		{"dropped file", testutil.ToFloat64(m.BuffersDropped.WithLabelValues(SinkFile)), 3},
		{"http", testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/status", "200")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}

	if n := testutil.CollectAndCount(m.SessionDuration); n != 1 {
		t.Errorf("Expected one duration series, got %d", n)
	}
	if n := testutil.CollectAndCount(m.BuffersDropped); n != 1 {
		t.Errorf("Expected zero drops not to create a series, got %d", n)
	}
}
