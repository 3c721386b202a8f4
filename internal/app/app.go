package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/audiosession"
	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
	"github.com/yok-tottii/ezs2t-live/internal/metrics"
	"github.com/yok-tottii/ezs2t-live/internal/permissions"
	"github.com/yok-tottii/ezs2t-live/internal/recognition"
	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

// App holds the components shared by every command
type App struct {
	Config     *config.Config
	Logger     logger.Interface
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Controller *recording.Controller
}

// LoggerConfig maps the logging section onto the logger
func LoggerConfig(cfg *config.Config) (logger.Config, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return logger.Config{}, err
	}

	dir, err := config.ExpandPath(cfg.Logging.Dir)
	if err != nil {
		return logger.Config{}, err
	}

	return logger.Config{
		LogDir:        dir,
		Level:         level,
		RetentionDays: cfg.Logging.RetentionDays,
		Stderr:        cfg.Logging.Stderr,
	}, nil
}

// AudioConfig maps the audio section onto the capture engine
func AudioConfig(cfg *config.Config) audio.Config {
	ac := audio.DefaultConfig()
	ac.DeviceID = cfg.Audio.DeviceID
	ac.SampleRate = cfg.Audio.SampleRate
	ac.FramesPerBuffer = cfg.Audio.FramesPerBuffer
	if cfg.Audio.Latency == "high" {
		ac.Latency = audio.HighStability
	}
	return ac
}

// WebSocketConfig maps the recognition section onto the server connection
func WebSocketConfig(cfg *config.Config) recognition.WebSocketConfig {
	return recognition.WebSocketConfig{
		Endpoint:         cfg.Recognition.Endpoint,
		APIKey:           cfg.Recognition.APIKey,
		HandshakeTimeout: time.Duration(cfg.Recognition.HandshakeTimeout) * time.Second,
	}
}

// RecordingConfig maps the session related sections onto the controller
func RecordingConfig(cfg *config.Config) (recording.Config, error) {
	dir, err := cfg.GetRecordingsDir()
	if err != nil {
		return recording.Config{}, fmt.Errorf("failed to resolve recordings dir: %w", err)
	}

	rc := recording.DefaultConfig()
	rc.RecordingsDir = dir
	rc.Locale = cfg.Recognition.Locale
	rc.QueueSize = cfg.Recognition.QueueSize
	rc.FileQueue = cfg.Storage.FileQueue
	rc.SilenceTimeout = cfg.SilenceTimeout()
	rc.PollInterval = cfg.SilencePollInterval()
	rc.LevelInterval = cfg.LevelInterval()
	return rc, nil
}

// New wires the PortAudio capture path, the WebSocket recognition backend
// and the recording controller from the configuration.
func New(cfg *config.Config, log logger.Interface) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.Nop{}
	}

	rc, err := RecordingConfig(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	wc := WebSocketConfig(cfg)
	wc.Logger = log
	backend := recognition.NewWebSocketBackend(wc)

	ctrl, err := recording.New(recording.Deps{
		Sessions:   audiosession.NewPortAudioManager(),
		Engine:     audio.NewEngine(audio.NewPortAudioDriver(), AudioConfig(cfg)),
		Backend:    backend,
		Authorizer: permissions.NewSystem(backend.Authorize),
		Logger:     log,
		Metrics:    m,
	}, rc)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Logger:     log,
		Registry:   reg,
		Metrics:    m,
		Controller: ctrl,
	}, nil
}

// Close stops any session in progress and shuts the controller down
func (a *App) Close() {
	a.Controller.Close()
}
