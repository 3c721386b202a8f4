package hotkey

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/ezs2t-live/internal/config"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
	"github.com/yok-tottii/ezs2t-live/internal/recording"
)

// RecordingMode defines how the hotkey triggers recording
type RecordingMode int

const (
	// PressToHold mode: record while key is held down
	PressToHold RecordingMode = iota
	// Toggle mode: a press starts recording when idle and stops it otherwise
	Toggle
)

// String returns the config name of the mode
func (m RecordingMode) String() string {
	if m == Toggle {
		return config.ModeToggle
	}
	return config.ModePressToHold
}

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event
type Event struct {
	Type EventType
}

// Config holds hotkey configuration
type Config struct {
	Modifiers []hotkey.Modifier
	Key       hotkey.Key
	Mode      RecordingMode
}

// FromConfig converts the hotkey section of the application config
func FromConfig(hc config.HotkeyConfig, mode string) (Config, error) {
	key, err := ParseKey(hc.Key)
	if err != nil {
		return Config{}, err
	}

	c := Config{
		Modifiers: modifiers(hc),
		Key:       key,
		Mode:      PressToHold,
	}
	if mode == config.ModeToggle {
		c.Mode = Toggle
	}
	return c, nil
}

// source is a registered system hotkey
type source interface {
	Register() error
	Unregister() error
	Keydown() <-chan hotkey.Event
	Keyup() <-chan hotkey.Event
}

// Manager manages global hotkey registration and events
type Manager struct {
	newSource func(mods []hotkey.Modifier, key hotkey.Key) source

	hk        source
	config    Config
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with default configuration
// Default: Ctrl+Alt+Space in toggle mode
func New() *Manager {
	def, _ := FromConfig(config.DefaultConfig().Hotkey, config.ModeToggle)

	return &Manager{
		newSource: func(mods []hotkey.Modifier, key hotkey.Key) source {
			return hotkey.New(mods, key)
		},
		config:    def,
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
	}
}

// Register registers the hotkey with the system
func (m *Manager) Register(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	m.config = config

	// Recreate channels (they may have been closed by a previous Close())
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	hk := m.newSource(m.config.Modifiers, m.config.Key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %s: %w", FormatHotkey(config.Modifiers, config.Key), err)
	}

	m.hk = hk
	m.running = true

	m.wg.Add(1)
	go m.listen(hk, m.config.Mode, m.eventChan, m.stopChan)

	return nil
}

// RegisterDefault registers the default hotkey
func (m *Manager) RegisterDefault() error {
	return m.Register(m.GetConfig())
}

// listen monitors hotkey events and sends them to the event channel
func (m *Manager) listen(hk source, mode RecordingMode, events chan<- Event, stop <-chan struct{}) {
	defer m.wg.Done()

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-stop:
			return false
		}
	}

	for {
		select {
		case <-hk.Keydown():
			if !send(Event{Type: Pressed}) {
				return
			}

		case <-hk.Keyup():
			if mode == PressToHold && !send(Event{Type: Released}) {
				return
			}

		case <-stop:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters the hotkey and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var unregisterErr error

	close(m.stopChan)
	m.wg.Wait()

	// 注意: エラーが発生しても続行し、必ずクリーンアップを実行する
	if m.hk != nil {
		if err := m.hk.Unregister(); err != nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
		m.hk = nil
	}

	// Close event channel to notify consumers of shutdown
	if m.eventChan != nil {
		close(m.eventChan)
		m.eventChan = nil
	}

	// 必ず running フラグを false にセット
	// これにより、Unregister() が失敗しても次の Register() が可能になる
	m.running = false

	return unregisterErr
}

// IsRunning returns whether the hotkey is currently registered and running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetConfig returns a deep copy of the current hotkey configuration
// to prevent callers from modifying the Manager's internal state
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	configCopy := m.config
	if m.config.Modifiers != nil {
		configCopy.Modifiers = make([]hotkey.Modifier, len(m.config.Modifiers))
		copy(configCopy.Modifiers, m.config.Modifiers)
	}

	return configCopy
}

// Recorder is the part of the recording controller the hotkey drives
type Recorder interface {
	Start(ctx context.Context) error
	Stop()
	State() recording.State
}

// Run translates hotkey events into recorder calls until events is closed
// or ctx is done. Start blocks while the session is prepared; a release
// arriving meanwhile waits in the event channel.
func Run(ctx context.Context, events <-chan Event, mode RecordingMode, r Recorder, log logger.Interface) {
	if log == nil {
		log = logger.Nop{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			handle(ctx, ev, mode, r, log)
		}
	}
}

func handle(ctx context.Context, ev Event, mode RecordingMode, r Recorder, log logger.Interface) {
	switch ev.Type {
	case Pressed:
		if mode == Toggle && r.State() != recording.Idle {
			log.Debug("Hotkey pressed, stopping recording")
			r.Stop()
			return
		}
		if r.State() != recording.Idle {
			return
		}

		log.Debug("Hotkey pressed, starting recording")
		if err := r.Start(ctx); err != nil {
			switch {
			case errors.Is(err, recording.ErrPermissionDenied):
				log.Warn("録音できません: マイクまたは音声認識の権限がありません")
			case errors.Is(err, recording.ErrAborted), errors.Is(err, context.Canceled):
				log.Debug("Recording start aborted: %v", err)
			default:
				log.Error("Failed to start recording: %v", err)
			}
		}

	case Released:
		if mode == PressToHold {
			log.Debug("Hotkey released, stopping recording")
			r.Stop()
		}
	}
}
