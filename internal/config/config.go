package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Recording modes
const (
	ModePressToHold = "press-to-hold"
	ModeToggle      = "toggle"
)

// Config holds application configuration
type Config struct {
	Audio         AudioConfig       `yaml:"audio"`
	Recognition   RecognitionConfig `yaml:"recognition"`
	Silence       SilenceConfig     `yaml:"silence"`
	Level         LevelConfig       `yaml:"level"`
	Storage       StorageConfig     `yaml:"storage"`
	Logging       LoggingConfig     `yaml:"logging"`
	Server        ServerConfig      `yaml:"server"`
	Hotkey        HotkeyConfig      `yaml:"hotkey"`
	RecordingMode string            `yaml:"recording_mode"` // "press-to-hold" or "toggle"

	mu sync.RWMutex
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	DeviceID        int    `yaml:"device_id"` // -1 means use system default device
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	Latency         string `yaml:"latency"` // "low" or "high"
}

// RecognitionConfig contains streaming recognition server configuration
type RecognitionConfig struct {
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Locale           string `yaml:"locale"`
	QueueSize        int    `yaml:"queue_size"`        // buffers
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
}

// SilenceConfig contains silence auto-stop parameters
type SilenceConfig struct {
	TimeoutMs      int `yaml:"timeout_ms"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// LevelConfig contains level meter parameters
type LevelConfig struct {
	IntervalMs int `yaml:"interval_ms"`
}

// StorageConfig contains recording file parameters
type StorageConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	FileQueue     int    `yaml:"file_queue"` // buffers
}

// LoggingConfig contains logging parameters
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	Level         string `yaml:"level"`
	RetentionDays int    `yaml:"retention_days"`
	Stderr        bool   `yaml:"stderr"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `yaml:"ctrl"`
	Shift bool   `yaml:"shift"`
	Alt   bool   `yaml:"alt"`
	Cmd   bool   `yaml:"cmd"`
	Key   string `yaml:"key"` // e.g., "Space"
}

func dataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".ezs2t-live")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			DeviceID:        -1,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			Latency:         "low",
		},
		Recognition: RecognitionConfig{
			Endpoint:         "ws://localhost:2700",
			Locale:           "en-US",
			QueueSize:        64,
			HandshakeTimeout: 10,
		},
		Silence: SilenceConfig{
			TimeoutMs:      1000,
			PollIntervalMs: 100,
		},
		Level: LevelConfig{
			IntervalMs: 100,
		},
		Storage: StorageConfig{
			RecordingsDir: filepath.Join(dataDir(), "recordings"),
			FileQueue:     256,
		},
		Logging: LoggingConfig{
			Dir:           filepath.Join(dataDir(), "logs"),
			Level:         "info",
			RetentionDays: 7,
		},
		Server: ServerConfig{
			Port: 18765,
		},
		Hotkey: HotkeyConfig{
			Ctrl: true,
			Alt:  true,
			Key:  "Space",
		},
		RecordingMode: ModeToggle,
	}
}

// Load loads configuration from the specified path.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// ホットキー設定の検証と修正
	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "Space" // デフォルト値で補完
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Audio:         c.Audio,
		Recognition:   c.Recognition,
		Silence:       c.Silence,
		Level:         c.Level,
		Storage:       c.Storage,
		Logging:       c.Logging,
		Server:        c.Server,
		Hotkey:        c.Hotkey,
		RecordingMode: c.RecordingMode,
	}
}

// SetRecordingMode switches between press-to-hold and toggle
func (c *Config) SetRecordingMode(mode string) error {
	if mode != ModePressToHold && mode != ModeToggle {
		return fmt.Errorf("invalid recording_mode: %s", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordingMode = mode
	return nil
}

// SilenceTimeout returns the silence auto-stop timeout
func (c *Config) SilenceTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Silence.TimeoutMs) * time.Millisecond
}

// SilencePollInterval returns how often the silence check runs
func (c *Config) SilencePollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Silence.PollIntervalMs) * time.Millisecond
}

// LevelInterval returns how often the level window is sampled
func (c *Config) LevelInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Level.IntervalMs) * time.Millisecond
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetRecordingsDir returns the expanded recordings directory
func (c *Config) GetRecordingsDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ExpandPath(c.Storage.RecordingsDir)
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.RecordingMode != ModePressToHold && c.RecordingMode != ModeToggle {
		return fmt.Errorf("invalid recording_mode: %s (must be 'press-to-hold' or 'toggle')", c.RecordingMode)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("invalid audio.sample_rate: %d (must be between 8000 and 192000)", c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > 16384 {
		return fmt.Errorf("invalid audio.frames_per_buffer: %d (must be between 1 and 16384)", c.Audio.FramesPerBuffer)
	}
	if c.Audio.Latency != "low" && c.Audio.Latency != "high" {
		return fmt.Errorf("invalid audio.latency: %s (must be 'low' or 'high')", c.Audio.Latency)
	}

	if c.Recognition.Endpoint == "" {
		return fmt.Errorf("recognition.endpoint cannot be empty")
	}
	if c.Recognition.Locale == "" {
		return fmt.Errorf("recognition.locale cannot be empty")
	}
	if c.Recognition.QueueSize <= 0 {
		return fmt.Errorf("invalid recognition.queue_size: %d (must be positive)", c.Recognition.QueueSize)
	}

	if c.Silence.TimeoutMs < 100 || c.Silence.TimeoutMs > 60000 {
		return fmt.Errorf("invalid silence.timeout_ms: %d (must be between 100 and 60000)", c.Silence.TimeoutMs)
	}
	if c.Silence.PollIntervalMs < 10 || c.Silence.PollIntervalMs > c.Silence.TimeoutMs {
		return fmt.Errorf("invalid silence.poll_interval_ms: %d (must be between 10 and timeout_ms)", c.Silence.PollIntervalMs)
	}
	if c.Level.IntervalMs < 10 || c.Level.IntervalMs > 1000 {
		return fmt.Errorf("invalid level.interval_ms: %d (must be between 10 and 1000)", c.Level.IntervalMs)
	}

	if c.Storage.RecordingsDir == "" {
		return fmt.Errorf("storage.recordings_dir cannot be empty")
	}
	if c.Storage.FileQueue <= 0 {
		return fmt.Errorf("invalid storage.file_queue: %d (must be positive)", c.Storage.FileQueue)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	if c.Hotkey.Key == "" {
		return fmt.Errorf("hotkey.key cannot be empty")
	}

	return nil
}
