package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yok-tottii/ezs2t-live/internal/api"
	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/audio/audiotest"
	"github.com/yok-tottii/ezs2t-live/internal/audiosession"
	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/metrics"
	"github.com/yok-tottii/ezs2t-live/internal/permissions"
	"github.com/yok-tottii/ezs2t-live/internal/recognition/recognitiontest"
	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func readStatus(t *testing.T, resp *http.Response) api.Status {
	t.Helper()
	defer resp.Body.Close()

	var st api.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return st
}

// TestServerAPIIntegration drives a real controller over HTTP:
// routes are registered on the server's mux before Start.
func TestServerAPIIntegration(t *testing.T) {
	driver := audiotest.NewDriver(audio.Format{SampleRate: 16000, Channels: 1})
	backend := recognitiontest.NewBackend()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	rc := recording.DefaultConfig()
	rc.RecordingsDir = t.TempDir()
	rc.SilenceTimeout = time.Minute

	ctrl, err := recording.New(recording.Deps{
		Sessions:   &audiosession.Static{},
		Engine:     audio.NewEngine(driver, audio.DefaultConfig()),
		Backend:    backend,
		Authorizer: permissions.Granting(),
		Metrics:    m,
	}, rc)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	defer ctrl.Close()

	serverConfig := DefaultConfig()
	serverConfig.Port = 0 // Use random port
	server := New(serverConfig, nil)

	api.New(ctrl, config.DefaultConfig(), m, nil).RegisterRoutes(server.Mux())
	server.HandleMetrics(reg)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	resp := post(t, server.URL()+"/api/start")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 before permissions, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, server.URL()+"/api/permissions")
	var p api.Permission
	json.NewDecoder(resp.Body).Decode(&p)
	resp.Body.Close()
	if !p.Granted {
		t.Fatal("Expected permissions granted")
	}

	st := readStatus(t, post(t, server.URL()+"/api/start"))
	if st.State != "Recording" || st.SessionID == "" {
		t.Fatalf("Unexpected status after start: %+v", st)
	}

	driver.Emit(audiotest.Tone(160, 1000))
	backend.Last().Emit("hello from the api", true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(server.URL() + "/api/status")
		if err != nil {
			t.Fatalf("GET status failed: %v", err)
		}
		st = readStatus(t, resp)
		if st.State == "Idle" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Session never stopped, last status %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if st.Text != "hello from the api" {
		t.Errorf("Expected final text, got %q", st.Text)
	}
	if st.Output == nil || st.Output.Frames != 160 {
		t.Errorf("Expected output with 160 frames, got %+v", st.Output)
	}

	resp, err = http.Get(server.URL() + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		"ezs2t_sessions_started_total 1",
		`ezs2t_http_requests_total{endpoint="/api/start",method="POST",status="403"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}
