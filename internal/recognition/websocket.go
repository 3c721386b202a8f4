package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
)

// WebSocketConfig configures a streaming recognition server connection
type WebSocketConfig struct {
	Endpoint         string        // e.g. ws://localhost:2700
	APIKey           string        // Sent as the Authorization header when set
	HandshakeTimeout time.Duration // Default: 10s
	Logger           logger.Interface
}

// DefaultWebSocketConfig returns the default server configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Endpoint:         "ws://localhost:2700",
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebSocketBackend speaks the Vosk streaming protocol: a JSON config message,
// binary PCM frames, an {"eof": 1} marker, and JSON partial/final results.
type WebSocketBackend struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketBackend creates a backend for the configured server
func NewWebSocketBackend(config WebSocketConfig) *WebSocketBackend {
	timeout := config.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultWebSocketConfig().HandshakeTimeout
	}

	return &WebSocketBackend{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

// Authorize checks that the backend is configured well enough to be used
func (b *WebSocketBackend) Authorize(ctx context.Context) error {
	if _, err := b.endpointURL("", audio.Format{}); err != nil {
		return err
	}
	return ctx.Err()
}

func (b *WebSocketBackend) endpointURL(locale string, format audio.Format) (string, error) {
	if b.config.Endpoint == "" {
		return "", fmt.Errorf("recognition endpoint is not set")
	}

	u, err := url.Parse(b.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid recognition endpoint: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("recognition endpoint must use ws or wss, got %q", u.Scheme)
	}

	q := u.Query()
	if format.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", format.SampleRate))
	}
	if locale != "" {
		q.Set("lang", locale)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

type configMessage struct {
	Config struct {
		SampleRate  int `json:"sample_rate"`
		NumChannels int `json:"num_channels,omitempty"`
	} `json:"config"`
}

type serverResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

var eofMessage = []byte(`{"eof" : 1}`)

// Open dials the server and sends the stream configuration
func (b *WebSocketBackend) Open(ctx context.Context, locale string, format audio.Format) (Stream, error) {
	endpoint, err := b.endpointURL(locale, format)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if b.config.APIKey != "" {
		header.Add("Authorization", b.config.APIKey)
	}

	conn, _, err := b.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition server: %w", err)
	}

	var msg configMessage
	msg.Config.SampleRate = format.SampleRate
	msg.Config.NumChannels = format.Channels
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send stream config: %w", err)
	}

	log := b.config.Logger
	if log == nil {
		log = logger.Nop{}
	}

	s := &wsStream{
		conn:    conn,
		results: make(chan Result, 100),
		log:     log,
	}
	go s.readLoop()

	return s, nil
}

type wsStream struct {
	conn      *websocket.Conn
	log       logger.Interface
	results   chan Result
	err       error
	eofSent   atomic.Bool
	canceled  atomic.Bool
	closeOnce sync.Once
}

func (s *wsStream) Append(buf audio.Buffer) error {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (s *wsStream) Results() <-chan Result {
	return s.results
}

// Err is valid once Results is closed
func (s *wsStream) Err() error {
	return s.err
}

func (s *wsStream) Finalize() error {
	if !s.eofSent.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, eofMessage); err != nil {
		return fmt.Errorf("failed to send eof: %w", err)
	}
	return nil
}

func (s *wsStream) Cancel() error {
	s.canceled.Store(true)
	return s.close()
}

func (s *wsStream) close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.results)
	defer s.close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.err = s.classify(err)
			return
		}

		var res serverResult
		if err := json.Unmarshal(message, &res); err != nil {
			s.log.Warn("Failed to parse recognition result: %v", err)
			continue
		}

		now := time.Now()
		if res.Partial != "" {
			s.results <- Result{Text: res.Partial, IsFinal: false, Timestamp: now}
		}
		if res.Text != "" {
			s.results <- Result{Text: res.Text, IsFinal: true, Timestamp: now}
		}
	}
}

// classify decides whether a read error ends the session normally
func (s *wsStream) classify(err error) error {
	if s.canceled.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	// Servers commonly drop the connection right after answering eof
	if s.eofSent.Load() && websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		return nil
	}
	return fmt.Errorf("recognition stream: %w", err)
}
