// Package audiotest provides an in-memory audio.Driver for tests.
package audiotest

import (
	"errors"
	"sync"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
)

// ErrOpenFailed is returned by Open when the driver is set to fail
var ErrOpenFailed = errors.New("audiotest: open failed")

// Driver is a fake audio.Driver. Emit plays the role of the hardware and
// invokes whatever callback was last registered, even after Stop, so tests
// can verify that a removed tap has no effect.
type Driver struct {
	mu       sync.Mutex
	callback func(in []int16)
	format   audio.Format
	running  bool
	opened   bool

	// FailOpen makes Open return ErrOpenFailed
	FailOpen bool
	// FailStart makes Start return an error
	FailStart bool

	Opens  int
	Starts int
	Stops  int
	Closes int
}

// NewDriver returns a driver that reports the given format on Open
func NewDriver(format audio.Format) *Driver {
	return &Driver{format: format}
}

// ListDevices returns a single default device
func (d *Driver) ListDevices() ([]audio.Device, error) {
	return []audio.Device{{ID: 0, Name: "audiotest", IsDefault: true}}, nil
}

// Open records the callback
func (d *Driver) Open(config audio.Config, callback func(in []int16)) (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Opens++
	if d.FailOpen {
		return audio.Format{}, ErrOpenFailed
	}
	d.callback = callback
	d.opened = true
	return d.format, nil
}

// Start marks the stream running
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Starts++
	if d.FailStart {
		return errors.New("audiotest: start failed")
	}
	d.running = true
	return nil
}

// Stop marks the stream stopped
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Stops++
	d.running = false
	return nil
}

// Close forgets the stream
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Closes++
	d.opened = false
	return nil
}

// Running reports whether Start was called without a later Stop
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Emit delivers one block through the last registered callback.
// It reports false if no callback was ever registered.
func (d *Driver) Emit(in []int16) bool {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(in)
	return true
}

// Tone returns n samples with the given constant amplitude
func Tone(n int, amplitude int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}
