package recording

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/audiosession"
	"github.com/yok-tottii/ezs2t-live/internal/level"
	"github.com/yok-tottii/ezs2t-live/internal/recognition"
	"github.com/yok-tottii/ezs2t-live/internal/silence"
)

// State represents the current recording state
type State int

const (
	// Idle means not recording
	Idle State = iota
	// Preparing means resources for a new session are being acquired
	Preparing
	// Recording means audio is being captured and transcribed
	Recording
	// Stopping means the session is being torn down
	Stopping
	// Failed means the last start failed; the controller returns to Idle right after
	Failed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Preparing:
		return "Preparing"
	case Recording:
		return "Recording"
	case Stopping:
		return "Stopping"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var (
	// ErrPermissionDenied is returned by Start before permissions were granted
	ErrPermissionDenied = errors.New("microphone or recognition permission not granted")
	// ErrSessionSetup wraps failures to acquire the audio session or output file
	ErrSessionSetup = errors.New("session setup failed")
	// ErrEngineStart wraps capture engine failures during Start
	ErrEngineStart = errors.New("capture engine failed to start")
	// ErrRecognitionSetup wraps failures to open the recognition stream
	ErrRecognitionSetup = errors.New("recognition setup failed")
	// ErrRecognitionStream wraps errors reported by a live recognition stream
	ErrRecognitionStream = errors.New("recognition stream failed")
	// ErrNotIdle is returned by Start when a session is already in progress
	ErrNotIdle = errors.New("controller is not idle")
	// ErrAborted is returned by Start when Reset interrupted it
	ErrAborted = errors.New("start aborted")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("controller is closed")
)

// Config holds configuration for the recording controller
type Config struct {
	RecordingsDir  string
	Locale         string
	QueueSize      int // recognition queue, in buffers
	FileQueue      int // output file queue, in buffers
	SilenceTimeout time.Duration
	PollInterval   time.Duration
	LevelInterval  time.Duration
	Category       audiosession.Category
	// FinalizeTimeout bounds how long a stopped session may wait for its
	// last recognition result before the stream is canceled
	FinalizeTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		RecordingsDir:   "recordings",
		Locale:          recognition.DefaultConfig().Locale,
		QueueSize:       recognition.DefaultConfig().QueueSize,
		FileQueue:       audio.DefaultFileQueue,
		SilenceTimeout:  silence.DefaultTimeout,
		PollInterval:    silence.DefaultPollInterval,
		LevelInterval:   100 * time.Millisecond,
		Category:        audiosession.Record,
		FinalizeTimeout: 5 * time.Second,
	}
}

// Session holds every resource acquired for one recording
type Session struct {
	ID           uuid.UUID
	StartTime    time.Time
	Format       audio.Format
	Output       *audio.FileWriter
	AudioSession *audiosession.Session
	Client       *recognition.Client

	gen          uint64
	meter        *level.Meter
	capturedBase uint64
	levelTask    *task
	silenceTask  *task
}

func (s *Session) stopTasks() {
	if s.levelTask != nil {
		s.levelTask.stop()
	}
	if s.silenceTask != nil {
		s.silenceTask.stop()
	}
}

// Snapshot is an immutable copy of the published controller state
type Snapshot struct {
	State              State
	SessionID          string
	StartedAt          time.Time
	Text               string
	Levels             [level.WindowSize]float64
	Output             *audio.OutputFile
	PermissionsGranted bool
	LastError          error
}
