package audio

import "time"

// Device represents an audio input device
type Device struct {
	ID        int
	Name      string
	IsDefault bool
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Config holds audio configuration
type Config struct {
	DeviceID        int
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Latency         LatencyMode
}

// DefaultConfig returns the default audio configuration
// Sample rate: 44.1kHz (nominal; the device rate is used if it differs)
// Channels: 1 (mono)
// Frames per buffer: 1024
// Latency: LowLatency
func DefaultConfig() Config {
	return Config{
		DeviceID:        -1, // -1 means use default device
		SampleRate:      44100,
		Channels:        1,
		FramesPerBuffer: 1024,
		Latency:         LowLatency,
	}
}

// Format describes the PCM layout of captured buffers
type Format struct {
	SampleRate int
	Channels   int
}

// Buffer is one block of captured 16-bit PCM samples.
// Buffers are never mutated after the engine hands them out.
type Buffer struct {
	Seq      uint64
	Samples  []int16
	Format   Format
	Captured time.Time
}

// Frames returns the number of frames in the buffer
func (b Buffer) Frames() int {
	if b.Format.Channels <= 0 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Format.Channels
}

// Bytes returns the samples as little-endian 16-bit PCM
func (b Buffer) Bytes() []byte {
	data := make([]byte, len(b.Samples)*2)
	for i, sample := range b.Samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// Sink receives captured buffers on the capture thread.
// Accept must not block.
type Sink interface {
	Accept(buf Buffer)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(buf Buffer)

// Accept calls f(buf)
func (f SinkFunc) Accept(buf Buffer) {
	f(buf)
}

// Driver is the interface for audio input
// This abstraction allows for future replacement of PortAudio with other libraries (e.g., miniaudio)
type Driver interface {
	// ListDevices returns a list of available audio input devices
	ListDevices() ([]Device, error)

	// Open opens an input stream that delivers blocks to callback.
	// It returns the format the device actually runs at.
	Open(config Config, callback func(in []int16)) (Format, error)

	// Start starts delivering blocks to the callback
	Start() error

	// Stop halts the stream; it must be safe to call when not started
	Stop() error

	// Close releases the stream opened by Open
	Close() error
}
