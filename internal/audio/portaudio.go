package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver implements Driver using PortAudio.
// PortAudio itself must be initialized by the audio session before Open.
type PortAudioDriver struct {
	config  Config
	stream  *portaudio.Stream
	mu      sync.Mutex
	running bool
}

// NewPortAudioDriver creates a new PortAudio driver
func NewPortAudioDriver() *PortAudioDriver {
	return &PortAudioDriver{}
}

// ListDevices returns a list of available audio input devices
func (d *PortAudioDriver) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	var result []Device
	for i, dev := range devices {
		// Only include devices with input channels
		if dev.MaxInputChannels > 0 {
			isDefault := false
			if defaultInput != nil && dev.Name == defaultInput.Name {
				isDefault = true
			}

			result = append(result, Device{
				ID:        i,
				Name:      dev.Name,
				IsDefault: isDefault,
			})
		}
	}

	return result, nil
}

// Open opens an input stream on the configured device
func (d *PortAudioDriver) Open(config Config, callback func(in []int16)) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return Format{}, fmt.Errorf("cannot open while running")
	}

	// Close existing stream if any
	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return Format{}, fmt.Errorf("failed to close existing stream: %w", err)
		}
		d.stream = nil
	}

	device, err := d.resolveDevice(config.DeviceID)
	if err != nil {
		return Format{}, err
	}

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return Format{}, fmt.Errorf("selected device '%s' (ID: %d) has no input channels (output-only device)",
			device.Name, config.DeviceID)
	}

	channels := config.Channels
	if channels > device.MaxInputChannels {
		channels = device.MaxInputChannels
	}

	sampleRate := float64(config.SampleRate)
	if sampleRate <= 0 {
		sampleRate = device.DefaultSampleRate
	}

	// Set latency
	var latency time.Duration
	switch config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	case HighStability:
		latency = device.DefaultHighInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	framesPerBuffer := config.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}

	streamParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(streamParams, callback)
	if err != nil {
		// The device may not support the nominal rate; fall back to its own.
		if sampleRate == device.DefaultSampleRate {
			return Format{}, fmt.Errorf("failed to open stream: %w", err)
		}
		streamParams.SampleRate = device.DefaultSampleRate
		stream, err = portaudio.OpenStream(streamParams, callback)
		if err != nil {
			return Format{}, fmt.Errorf("failed to open stream: %w", err)
		}
	}

	// The rate the stream actually runs at is authoritative for the session
	actualRate := streamParams.SampleRate
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		actualRate = info.SampleRate
	}

	d.stream = stream
	d.config = config

	return Format{
		SampleRate: int(math.Round(actualRate)),
		Channels:   channels,
	}, nil
}

func (d *PortAudioDriver) resolveDevice(id int) (*portaudio.DeviceInfo, error) {
	if id == -1 {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", id)
	}

	return devices[id], nil
}

// Start starts the opened stream
func (d *PortAudioDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return fmt.Errorf("stream not opened")
	}

	if d.running {
		return fmt.Errorf("already running")
	}

	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	d.running = true
	return nil
}

// Stop stops the stream if it is running
func (d *PortAudioDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	// Stop waits for the in-flight callback to return
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}

	d.running = false
	return nil
}

// Close stops and closes the stream
func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		if err := d.stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		d.running = false
	}

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		d.stream = nil
	}

	return nil
}
