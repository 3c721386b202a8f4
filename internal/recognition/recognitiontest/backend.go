// Package recognitiontest provides an in-memory recognition.Backend for tests.
package recognitiontest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/recognition"
)

// ErrOpenFailed is a convenience error for Backend.OpenErr
var ErrOpenFailed = errors.New("recognitiontest: open failed")

// Backend is a fake recognition.Backend that records every stream it opens
type Backend struct {
	mu      sync.Mutex
	streams []*Stream

	// OpenErr, when set, is returned by Open
	OpenErr error
	// Gate, when set, makes Open wait until it is closed or ctx is done
	Gate chan struct{}
	// AppendErr, when set, is returned by Append on new streams
	AppendErr error
	// AppendGate, when set, makes every Append on new streams wait until it
	// is closed
	AppendGate chan struct{}
}

// NewBackend returns an empty backend
func NewBackend() *Backend {
	return &Backend{}
}

// Open creates a new Stream
func (b *Backend) Open(ctx context.Context, locale string, format audio.Format) (recognition.Stream, error) {
	b.mu.Lock()
	gate := b.Gate
	openErr := b.OpenErr
	appendGate := b.AppendGate
	appendErr := b.AppendErr
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if openErr != nil {
		return nil, openErr
	}

	s := &Stream{
		Locale:    locale,
		Format:    format,
		results:   make(chan recognition.Result, 256),
		gate:      appendGate,
		appendErr: appendErr,
	}

	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	return s, nil
}

// Opens returns the number of streams opened so far
func (b *Backend) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Last returns the most recently opened stream, or nil
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// Stream is a fake recognition.Stream driven by the test
type Stream struct {
	Locale string
	Format audio.Format

	mu        sync.Mutex
	results   chan recognition.Result
	closed    bool
	err       error
	appended  []audio.Buffer
	finalized bool
	canceled  bool
	gate      chan struct{}
	appendErr error
}

// Append records buf
func (s *Stream) Append(buf audio.Buffer) error {
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, buf)
	return nil
}

// Results implements recognition.Stream
func (s *Stream) Results() <-chan recognition.Result {
	return s.results
}

// Err implements recognition.Stream
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Finalize marks the stream finalized. Results keep flowing until Close.
func (s *Stream) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalized = true
	return nil
}

// Cancel marks the stream canceled and ends it without error
func (s *Stream) Cancel() error {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()

	s.Close(nil)
	return nil
}

// Emit delivers a result. It returns false once the stream is closed.
func (s *Stream) Emit(text string, final bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.results <- recognition.Result{Text: text, IsFinal: final, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Close ends the session. A non-nil err is reported through Err.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.results)
}

// Appended returns a copy of the buffers received so far
func (s *Stream) Appended() []audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]audio.Buffer, len(s.appended))
	copy(out, s.appended)
	return out
}

// Finalized reports whether Finalize was called
func (s *Stream) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Canceled reports whether Cancel was called
func (s *Stream) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Closed reports whether the session has ended
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
