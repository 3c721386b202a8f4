package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/hotkey"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
	"github.com/yok-tottii/ezs2t-live/internal/metrics"
	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

// Controller is the recording surface the API drives
type Controller interface {
	RequestPermissions(ctx context.Context) <-chan bool
	Start(ctx context.Context) error
	Stop()
	Reset()
	Snapshot() recording.Snapshot
	Subscribe() (<-chan recording.Snapshot, func())
	Devices() ([]audio.Device, error)
}

// Handler manages API endpoints
type Handler struct {
	ctrl     Controller
	config   *config.Config
	metrics  *metrics.Metrics
	log      logger.Interface
	upgrader websocket.Upgrader

	// writeTimeout bounds each event frame
	writeTimeout time.Duration
}

// New creates a new API handler
func New(ctrl Controller, cfg *config.Config, m *metrics.Metrics, log logger.Interface) *Handler {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if log == nil {
		log = logger.Nop{}
	}

	return &Handler{
		ctrl:    ctrl,
		config:  cfg,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     localOrigin,
		},
		writeTimeout: 5 * time.Second,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/status", h.instrument("/api/status", h.handleStatus))
	mux.Handle("/api/start", h.instrument("/api/start", h.handleStart))
	mux.Handle("/api/stop", h.instrument("/api/stop", h.handleStop))
	mux.Handle("/api/reset", h.instrument("/api/reset", h.handleReset))
	mux.Handle("/api/permissions", h.instrument("/api/permissions", h.handlePermissions))
	mux.Handle("/api/devices", h.instrument("/api/devices", h.handleDevices))
	mux.Handle("/api/settings", h.instrument("/api/settings", h.handleSettings))
	mux.Handle("/api/hotkey/validate", h.instrument("/api/hotkey/validate", h.handleHotkeyValidate))
	// The upgrade hijacks the connection, so events are counted inside the handler
	mux.HandleFunc("/api/events", h.handleEvents)
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(endpoint string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(rec.status))
	})
}

// Output describes the last persisted recording
type Output struct {
	Path       string `json:"path"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Frames     int    `json:"frames"`
	Dropped    uint64 `json:"dropped"`
}

// Status is the JSON form of a recording snapshot
type Status struct {
	State              string     `json:"state"`
	SessionID          string     `json:"session_id,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	Text               string     `json:"text"`
	Levels             []float64  `json:"levels"`
	Output             *Output    `json:"output,omitempty"`
	PermissionsGranted bool       `json:"permissions_granted"`
	Error              string     `json:"error,omitempty"`
}

// NewStatus converts a snapshot
func NewStatus(snap recording.Snapshot) Status {
	st := Status{
		State:              snap.State.String(),
		SessionID:          snap.SessionID,
		Text:               snap.Text,
		Levels:             snap.Levels[:],
		PermissionsGranted: snap.PermissionsGranted,
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		st.StartedAt = &started
	}
	if snap.Output != nil {
		st.Output = &Output{
			Path:       snap.Output.Path,
			SampleRate: snap.Output.SampleRate,
			Channels:   snap.Output.Channels,
			Frames:     snap.Output.Frames,
			Dropped:    snap.Output.Dropped,
		}
	}
	if snap.LastError != nil {
		st.Error = snap.LastError.Error()
	}
	return st
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, NewStatus(h.ctrl.Snapshot()))
}

// startStatus maps a Start error to an HTTP status
func startStatus(err error) int {
	switch {
	case errors.Is(err, recording.ErrNotIdle):
		return http.StatusConflict
	case errors.Is(err, recording.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, recording.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, recording.ErrAborted), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, recording.ErrRecognitionSetup):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleStart handles POST /api/start
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.ctrl.Start(r.Context()); err != nil {
		h.log.Warn("API start failed: %v", err)
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatus(h.ctrl.Snapshot()))
}

// handleStop handles POST /api/stop
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.ctrl.Stop()
	writeJSON(w, http.StatusOK, NewStatus(h.ctrl.Snapshot()))
}

// handleReset handles POST /api/reset
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.ctrl.Reset()
	writeJSON(w, http.StatusOK, NewStatus(h.ctrl.Snapshot()))
}

// Permission represents a system permission status
type Permission struct {
	Granted bool `json:"granted"`
}

// handlePermissions handles GET and POST /api/permissions.
// GET reports the last outcome; POST requests access and waits for it.
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, Permission{Granted: h.ctrl.Snapshot().PermissionsGranted})

	case http.MethodPost:
		select {
		case granted, ok := <-h.ctrl.RequestPermissions(r.Context()):
			if !ok {
				writeError(w, http.StatusServiceUnavailable, recording.ErrClosed)
				return
			}
			writeJSON(w, http.StatusOK, Permission{Granted: granted})
		case <-r.Context().Done():
			writeError(w, http.StatusRequestTimeout, r.Context().Err())
		}

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Device represents an audio device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// convertAudioDevices converts audio.Device slice to api.Device slice
func convertAudioDevices(audioDevices []audio.Device) []Device {
	devices := make([]Device, 0, len(audioDevices))
	for _, dev := range audioDevices {
		devices = append(devices, Device{
			ID:        dev.ID,
			Name:      dev.Name,
			IsDefault: dev.IsDefault,
		})
	}
	return devices
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	audioDevices, err := h.ctrl.Devices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to list audio devices: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": convertAudioDevices(audioDevices),
	})
}

// handleSettings handles GET /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings := h.config.Clone()
	// APIキーは返さない
	if settings.Recognition.APIKey != "" {
		settings.Recognition.APIKey = "********"
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// NBSP正規化: macOS IMEでスペースキーを押すとNBSP（U+00A0）が送信されることがあるため
	if request.Key == "\u00a0" {
		request.Key = "Space"
	}

	hk, err := hotkey.FromConfig(request, config.ModeToggle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(hk.Modifiers, hk.Key) {
		conflictNames = append(conflictNames, c.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hotkey":    hotkey.FormatHotkey(hk.Modifiers, hk.Key),
		"conflicts": conflictNames,
	})
}

// handleEvents handles GET /api/events: a WebSocket that receives every
// published snapshot as a Status message, starting with the current one
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.metrics.RecordHTTPRequest(r.Method, "/api/events", strconv.Itoa(http.StatusBadRequest))
		return
	}
	defer conn.Close()
	h.metrics.RecordHTTPRequest(r.Method, "/api/events", strconv.Itoa(http.StatusSwitchingProtocols))

	snaps, cancel := h.ctrl.Subscribe()
	defer cancel()

	// The reader only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(NewStatus(snap)); err != nil {
				h.log.Debug("Event stream closed: %v", err)
				return
			}
		case <-gone:
			return
		}
	}
}

// localOrigin accepts requests without an Origin and from localhost pages
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1"} {
		if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
