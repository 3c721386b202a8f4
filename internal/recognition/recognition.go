package recognition

import (
	"context"
	"time"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
)

// Result is one transcription hypothesis from the backend
type Result struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// Backend opens streaming recognition sessions
type Backend interface {
	// Open starts a session bound to locale for audio in the given format
	Open(ctx context.Context, locale string, format audio.Format) (Stream, error)
}

// Stream is one live recognition session.
//
// Append, Finalize and Cancel are called from a single sender goroutine,
// except Cancel which may be called concurrently with Append.
// Results is closed when the session ends; Err is valid after that.
type Stream interface {
	Append(buf audio.Buffer) error
	Results() <-chan Result
	Err() error
	Finalize() error
	Cancel() error
}

// Config holds recognition configuration
type Config struct {
	Locale    string // Default: "en-US"
	QueueSize int    // Buffers held between capture and the backend
}

// DefaultConfig returns the default recognition configuration
func DefaultConfig() Config {
	return Config{
		Locale:    "en-US",
		QueueSize: 64,
	}
}
