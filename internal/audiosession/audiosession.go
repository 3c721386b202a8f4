package audiosession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Category describes what the session will be used for
type Category int

const (
	// Record is input-only capture
	Record Category = iota
	// PlayAndRecord allows playback alongside capture
	PlayAndRecord
)

// String returns the string representation of the category
func (c Category) String() string {
	switch c {
	case Record:
		return "Record"
	case PlayAndRecord:
		return "PlayAndRecord"
	default:
		return "Unknown"
	}
}

var (
	// ErrAlreadyReleased is returned when a session is released twice
	ErrAlreadyReleased = errors.New("audio session already released")
	// ErrInvalidSession is returned for a nil session
	ErrInvalidSession = errors.New("invalid audio session")
)

// Session is an acquired hold on the host audio system
type Session struct {
	Category   Category
	AcquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// Released reports whether the session has been released
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) markReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

// Manager acquires and releases the host audio system
type Manager interface {
	Acquire(category Category) (*Session, error)
	Release(session *Session) error
}

// PortAudioManager backs sessions with PortAudio initialization.
// PortAudio reference-counts Initialize/Terminate, so each session holds one
// reference for its lifetime.
type PortAudioManager struct {
	mu     sync.Mutex
	active int
}

// NewPortAudioManager creates a new PortAudio session manager
func NewPortAudioManager() *PortAudioManager {
	return &PortAudioManager{}
}

// Acquire initializes PortAudio and verifies an input device is present
func (m *PortAudioManager) Acquire(category Category) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		if termErr := portaudio.Terminate(); termErr != nil {
			err = errors.Join(err, termErr)
		}
		return nil, fmt.Errorf("no input device available: %w", err)
	}

	m.active++
	return &Session{
		Category:   category,
		AcquiredAt: time.Now(),
	}, nil
}

// Release terminates the PortAudio reference held by the session
func (m *PortAudioManager) Release(session *Session) error {
	if session == nil {
		return ErrInvalidSession
	}

	if !session.markReleased() {
		return ErrAlreadyReleased
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.active--
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Active returns the number of sessions currently held
func (m *PortAudioManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Static is a Manager that always succeeds without touching any device.
// It is useful for tests and for drivers that manage the host themselves.
type Static struct {
	mu sync.Mutex

	// Err, when set, is returned by Acquire
	Err error

	acquired int
	released int
}

// Acquire returns a new session or Err
func (s *Static) Acquire(category Category) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	s.acquired++
	return &Session{Category: category, AcquiredAt: time.Now()}, nil
}

// Release marks the session released
func (s *Static) Release(session *Session) error {
	if session == nil {
		return ErrInvalidSession
	}
	if !session.markReleased() {
		return ErrAlreadyReleased
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

// Held returns the number of sessions acquired but not yet released
func (s *Static) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired - s.released
}
