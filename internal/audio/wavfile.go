package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// DefaultFileQueue is the number of buffers the file writer can hold
	DefaultFileQueue = 256

	bitDepth       = 16
	wavFormatPCM   = 1
	filePermission = 0644
)

// OutputFile describes a persisted recording
type OutputFile struct {
	Path       string
	SampleRate int
	Channels   int
	Frames     int
	Dropped    uint64
}

// FileWriter writes captured buffers to a WAV file. Accept only enqueues;
// encoding happens on the writer's own goroutine so the capture thread
// never waits on disk I/O.
type FileWriter struct {
	path    string
	format  Format
	file    *os.File
	encoder *wav.Encoder

	queue   chan Buffer
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	frames  int
	err     error
	dropped atomic.Uint64
}

// CreateFile creates the recording file and starts its writer goroutine.
// The WAV header is written with the nominal format; buffers carrying a
// different format are still written as-is.
func CreateFile(path string, format Format, queueSize int) (*FileWriter, error) {
	if queueSize <= 0 {
		queueSize = DefaultFileQueue
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, filePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	w := &FileWriter{
		path:    path,
		format:  format,
		file:    file,
		encoder: wav.NewEncoder(file, format.SampleRate, bitDepth, format.Channels, wavFormatPCM),
		queue:   make(chan Buffer, queueSize),
		done:    make(chan struct{}),
	}

	go w.run()

	return w, nil
}

func (w *FileWriter) run() {
	defer close(w.done)

	for buf := range w.queue {
		if w.err != nil {
			continue
		}

		data := make([]int, len(buf.Samples))
		for i, s := range buf.Samples {
			data[i] = int(s)
		}

		ib := &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: w.format.Channels,
				SampleRate:  w.format.SampleRate,
			},
			Data:           data,
			SourceBitDepth: bitDepth,
		}

		if err := w.encoder.Write(ib); err != nil {
			w.err = fmt.Errorf("failed to write samples: %w", err)
			continue
		}
		w.frames += buf.Frames()
	}
}

// Accept implements Sink
func (w *FileWriter) Accept(buf Buffer) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	select {
	case w.queue <- buf:
	default:
		w.dropped.Add(1)
	}
}

// Path returns the file path
func (w *FileWriter) Path() string {
	return w.path
}

// Dropped returns the number of buffers that did not fit the queue
func (w *FileWriter) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *FileWriter) shutdown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.closed = true
	close(w.queue)
	return true
}

// Close drains pending buffers, finalizes the WAV header and closes the file
func (w *FileWriter) Close() (OutputFile, error) {
	first := w.shutdown()
	<-w.done

	out := OutputFile{
		Path:       w.path,
		SampleRate: w.format.SampleRate,
		Channels:   w.format.Channels,
		Frames:     w.frames,
		Dropped:    w.dropped.Load(),
	}

	if !first {
		return out, nil
	}

	var errs []error
	if w.err != nil {
		errs = append(errs, w.err)
	}
	if err := w.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to finalize wav: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recording file: %w", err))
	}

	return out, errors.Join(errs...)
}

// Discard closes the writer and deletes the file
func (w *FileWriter) Discard() error {
	_, _ = w.Close()
	return RemoveFile(w.path)
}

// RemoveFile deletes a recording; a missing file is not an error
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove recording: %w", err)
	}
	return nil
}
