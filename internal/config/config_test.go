package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("Expected default config to be created")
	}

	if config.Hotkey.Ctrl != true {
		t.Error("Expected Ctrl to be true")
	}

	if config.Hotkey.Alt != true {
		t.Error("Expected Alt to be true")
	}

	if config.Hotkey.Key != "Space" {
		t.Errorf("Expected Key to be 'Space', got '%s'", config.Hotkey.Key)
	}

	if config.RecordingMode != ModeToggle {
		t.Errorf("Expected RecordingMode 'toggle', got '%s'", config.RecordingMode)
	}

	if config.Audio.SampleRate != 44100 || config.Audio.FramesPerBuffer != 1024 || config.Audio.DeviceID != -1 {
		t.Errorf("Unexpected audio defaults: %+v", config.Audio)
	}

	if config.Recognition.Locale != "en-US" {
		t.Errorf("Expected Locale 'en-US', got '%s'", config.Recognition.Locale)
	}

	if config.SilenceTimeout() != time.Second {
		t.Errorf("Expected silence timeout 1s, got %v", config.SilenceTimeout())
	}

	if config.SilencePollInterval() != 100*time.Millisecond {
		t.Errorf("Expected poll interval 100ms, got %v", config.SilencePollInterval())
	}

	if config.LevelInterval() != 100*time.Millisecond {
		t.Errorf("Expected level interval 100ms, got %v", config.LevelInterval())
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	config := DefaultConfig()
	config.RecordingMode = ModePressToHold
	config.Recognition.Locale = "ja-JP"
	config.Silence.TimeoutMs = 1500
	config.Hotkey.Shift = true

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.RecordingMode != ModePressToHold {
		t.Errorf("Expected RecordingMode 'press-to-hold', got '%s'", loaded.RecordingMode)
	}

	if loaded.Recognition.Locale != "ja-JP" {
		t.Errorf("Expected Locale 'ja-JP', got '%s'", loaded.Recognition.Locale)
	}

	if loaded.SilenceTimeout() != 1500*time.Millisecond {
		t.Errorf("Expected timeout 1.5s, got %v", loaded.SilenceTimeout())
	}

	if !loaded.Hotkey.Shift {
		t.Error("Expected Shift to be true")
	}
}

func TestSavedFileIsYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := DefaultConfig().Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}

	for _, key := range []string{"audio:", "recognition:", "silence:", "timeout_ms: 1000", "recording_mode: toggle"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected %q in saved config:\n%s", key, data)
		}
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "recognition:\n  locale: de-DE\nhotkey:\n  key: \"\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Recognition.Locale != "de-DE" {
		t.Errorf("Expected Locale 'de-DE', got '%s'", loaded.Recognition.Locale)
	}
	if loaded.Recognition.Endpoint != "ws://localhost:2700" {
		t.Errorf("Expected default endpoint to survive, got '%s'", loaded.Recognition.Endpoint)
	}
	if loaded.Hotkey.Key != "Space" {
		t.Errorf("Expected empty hotkey key to fall back to Space, got '%s'", loaded.Hotkey.Key)
	}
}

func TestLoadNonexistent(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.yaml")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error for nonexistent file, got %v", err)
	}

	if config == nil {
		t.Fatal("Expected default config")
	}

	if config.RecordingMode != ModeToggle {
		t.Error("Expected default values")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("audio: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"recording mode", func(c *Config) { c.RecordingMode = "always" }},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }},
		{"frames per buffer", func(c *Config) { c.Audio.FramesPerBuffer = 0 }},
		{"latency", func(c *Config) { c.Audio.Latency = "medium" }},
		{"endpoint", func(c *Config) { c.Recognition.Endpoint = "" }},
		{"locale", func(c *Config) { c.Recognition.Locale = "" }},
		{"queue size", func(c *Config) { c.Recognition.QueueSize = 0 }},
		{"silence timeout", func(c *Config) { c.Silence.TimeoutMs = 50 }},
		{"poll interval", func(c *Config) { c.Silence.PollIntervalMs = 5000 }},
		{"level interval", func(c *Config) { c.Level.IntervalMs = 0 }},
		{"recordings dir", func(c *Config) { c.Storage.RecordingsDir = "" }},
		{"file queue", func(c *Config) { c.Storage.FileQueue = -1 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"hotkey key", func(c *Config) { c.Hotkey.Key = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestSetRecordingMode(t *testing.T) {
	config := DefaultConfig()

	if err := config.SetRecordingMode(ModePressToHold); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if config.RecordingMode != ModePressToHold {
		t.Errorf("Expected press-to-hold, got %s", config.RecordingMode)
	}

	if err := config.SetRecordingMode("invalid"); err == nil {
		t.Error("Expected error for invalid mode")
	}
	if config.RecordingMode != ModePressToHold {
		t.Error("Invalid mode should not change the config")
	}
}

func TestClone(t *testing.T) {
	original := DefaultConfig()
	original.Recognition.Locale = "fr-FR"

	clone := original.Clone()

	if clone.Recognition.Locale != original.Recognition.Locale {
		t.Error("Clone should have same values")
	}

	// Modify clone
	clone.Recognition.Locale = "es-ES"
	clone.Hotkey.Key = "F1"

	if original.Recognition.Locale == "es-ES" || original.Hotkey.Key == "F1" {
		t.Error("Modifying clone should not affect original")
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()

	if path == "" {
		t.Error("Expected non-empty config path")
	}

	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected config.yaml, got %s", filepath.Base(path))
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("No home directory: %v", err)
	}

	got, err := ExpandPath("~/recordings")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(homeDir, "recordings") {
		t.Errorf("Expected %s, got %s", filepath.Join(homeDir, "recordings"), got)
	}

	got, err = ExpandPath("")
	if err != nil || got != "" {
		t.Errorf("Expected empty path to stay empty, got %q, %v", got, err)
	}

	got, err = ExpandPath("relative/dir")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("Expected absolute path, got %s", got)
	}
}
