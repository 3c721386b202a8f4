package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/metrics"
	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

type fakeController struct {
	mu       sync.Mutex
	snap     recording.Snapshot
	startErr error
	granted  bool
	devErr   error
	subs     []chan recording.Snapshot
	stops    int
	resets   int
}

func (f *fakeController) RequestPermissions(ctx context.Context) <-chan bool {
	f.mu.Lock()
	f.snap.PermissionsGranted = f.granted
	granted := f.granted
	f.mu.Unlock()

	ch := make(chan bool, 1)
	ch <- granted
	close(ch)
	return ch
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.snap.State = recording.Recording
	f.snap.SessionID = "session-1"
	f.snap.StartedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.snap.State = recording.Idle
	f.snap.SessionID = ""
	f.snap.Output = &audio.OutputFile{Path: "/tmp/recording.wav", SampleRate: 16000, Channels: 1, Frames: 320}
}

func (f *fakeController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.snap = recording.Snapshot{PermissionsGranted: f.snap.PermissionsGranted}
}

func (f *fakeController) Snapshot() recording.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe() (<-chan recording.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan recording.Snapshot, 8)
	ch <- f.snap
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeController) publish(snap recording.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		ch <- snap
	}
}

func (f *fakeController) Devices() ([]audio.Device, error) {
	if f.devErr != nil {
		return nil, f.devErr
	}
	return []audio.Device{
		{ID: 0, Name: "Built-in Microphone", IsDefault: true},
		{ID: 1, Name: "USB Microphone"},
	}, nil
}

func newTestHandler() (*Handler, *fakeController, *http.ServeMux) {
	ctrl := &fakeController{granted: true}
	h := New(ctrl, config.DefaultConfig(), metrics.NewMetrics(nil), nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, ctrl, mux
}

func do(mux *http.ServeMux, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) Status {
	t.Helper()
	var st Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	return st
}

func TestStatus(t *testing.T) {
	_, _, mux := newTestHandler()

	w := do(mux, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	st := decodeStatus(t, w)
	if st.State != "Idle" {
		t.Errorf("Expected Idle, got %s", st.State)
	}
	if st.StartedAt != nil || st.Output != nil {
		t.Error("Expected no start time or output when idle")
	}

	if w := do(mux, http.MethodPost, "/api/status", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestStartStopReset(t *testing.T) {
	h, ctrl, mux := newTestHandler()

	w := do(mux, http.MethodPost, "/api/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	st := decodeStatus(t, w)
	if st.State != "Recording" || st.SessionID != "session-1" || st.StartedAt == nil {
		t.Errorf("Unexpected start status: %+v", st)
	}

	w = do(mux, http.MethodPost, "/api/stop", nil)
	st = decodeStatus(t, w)
	if st.State != "Idle" || st.Output == nil || st.Output.Frames != 320 {
		t.Errorf("Unexpected stop status: %+v", st)
	}

	w = do(mux, http.MethodPost, "/api/reset", nil)
	st = decodeStatus(t, w)
	if st.Output != nil {
		t.Errorf("Expected output cleared by reset, got %+v", st.Output)
	}
	if ctrl.stops != 1 || ctrl.resets != 1 {
		t.Errorf("Expected 1 stop and 1 reset, got %d/%d", ctrl.stops, ctrl.resets)
	}

	if w := do(mux, http.MethodGet, "/api/start", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}

	got := testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues(http.MethodPost, "/api/start", "200"))
	if got != 1 {
		t.Errorf("Expected 1 recorded start request, got %v", got)
	}
	got = testutil.ToFloat64(h.metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/start", "405"))
	if got != 1 {
		t.Errorf("Expected 1 recorded 405, got %v", got)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{recording.ErrNotIdle, http.StatusConflict},
		{recording.ErrPermissionDenied, http.StatusForbidden},
		{recording.ErrClosed, http.StatusServiceUnavailable},
		{recording.ErrAborted, http.StatusConflict},
		{fmt.Errorf("%w: %w", recording.ErrRecognitionSetup, errors.New("dial failed")), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", recording.ErrEngineStart, errors.New("no device")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			_, ctrl, mux := newTestHandler()
			ctrl.startErr = tt.err

			w := do(mux, http.MethodPost, "/api/start", nil)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}

			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if body["error"] == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestStatusReportsLastError(t *testing.T) {
	st := NewStatus(recording.Snapshot{
		State:     recording.Idle,
		LastError: fmt.Errorf("%w: %w", recording.ErrRecognitionStream, errors.New("connection lost")),
	})

	if !strings.Contains(st.Error, "connection lost") {
		t.Errorf("Expected error in status, got %q", st.Error)
	}
	if len(st.Levels) != 30 {
		t.Errorf("Expected 30 levels, got %d", len(st.Levels))
	}
}

func TestPermissions(t *testing.T) {
	_, ctrl, mux := newTestHandler()

	var p Permission
	w := do(mux, http.MethodGet, "/api/permissions", nil)
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if p.Granted {
		t.Error("Expected not granted before request")
	}

	w = do(mux, http.MethodPost, "/api/permissions", nil)
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !p.Granted || !ctrl.Snapshot().PermissionsGranted {
		t.Error("Expected permissions granted")
	}

	if w := do(mux, http.MethodDelete, "/api/permissions", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHandleDevices(t *testing.T) {
	_, ctrl, mux := newTestHandler()

	w := do(mux, http.MethodGet, "/api/devices", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Devices) != 2 || !response.Devices[0].IsDefault {
		t.Errorf("Unexpected devices: %+v", response.Devices)
	}

	ctrl.devErr = errors.New("portaudio not initialized")
	if w := do(mux, http.MethodGet, "/api/devices", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestGetSettingsMasksAPIKey(t *testing.T) {
	h, _, mux := newTestHandler()
	h.config.Recognition.APIKey = "secret"

	w := do(mux, http.MethodGet, "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("API key must not be returned")
	}
	if h.config.Recognition.APIKey != "secret" {
		t.Error("Masking must not change the live config")
	}
}

func TestHandleHotkeyValidate(t *testing.T) {
	_, _, mux := newTestHandler()

	body, _ := json.Marshal(config.HotkeyConfig{Ctrl: true, Alt: true, Key: "\u00a0"})
	w := do(mux, http.MethodPost, "/api/hotkey/validate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, ok := response["conflicts"]; !ok {
		t.Error("Expected 'conflicts' field in response")
	}
	if s, _ := response["hotkey"].(string); !strings.HasSuffix(s, "Space") {
		t.Errorf("Expected NBSP to be read as Space, got %q", s)
	}

	body, _ = json.Marshal(config.HotkeyConfig{Ctrl: true, Key: "Hyper"})
	if w := do(mux, http.MethodPost, "/api/hotkey/validate", body); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown key, got %d", w.Code)
	}

	if w := do(mux, http.MethodPost, "/api/hotkey/validate", []byte("invalid")); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid body, got %d", w.Code)
	}
}

func TestEvents(t *testing.T) {
	_, ctrl, mux := newTestHandler()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial events: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("Failed to read initial status: %v", err)
	}
	if st.State != "Idle" {
		t.Errorf("Expected initial Idle, got %s", st.State)
	}

	// The initial message means the handler has subscribed
	ctrl.publish(recording.Snapshot{State: recording.Recording, Text: "hello"})
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("Failed to read update: %v", err)
	}
	if st.State != "Recording" || st.Text != "hello" {
		t.Errorf("Unexpected update: %+v", st)
	}
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	_, _, mux := newTestHandler()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"https://example.com"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Expected handshake to fail for a foreign origin")
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:18765", true},
		{"http://127.0.0.1:18765", true},
		{"https://example.com", false},
		{"http://local", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := localOrigin(req); got != tt.want {
			t.Errorf("localOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
