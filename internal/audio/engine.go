package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEngineRunning is returned by Start when a tap is already installed
var ErrEngineRunning = errors.New("capture engine already running")

// tap is the live delivery path from the driver callback to the sinks
type tap struct {
	epoch  uint64
	sinks  []Sink
	format Format
	seq    atomic.Uint64
	now    func() time.Time
}

// Engine owns the capture graph: it opens the driver, installs the tap that
// turns driver blocks into Buffers, and fans each buffer out to the sinks.
type Engine struct {
	driver Driver
	config Config
	now    func() time.Time

	mu      sync.Mutex // serializes Open/Start/Stop
	opened  bool
	running bool
	format  Format
	epoch   uint64 // incremented on every driver Open

	tap      atomic.Pointer[tap]
	captured atomic.Uint64
}

// NewEngine creates a capture engine for the given driver
func NewEngine(driver Driver, config Config) *Engine {
	return &Engine{
		driver: driver,
		config: config,
		now:    time.Now,
	}
}

// SetClock overrides the time source used to stamp buffers
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Open opens the input stream without delivering anything and returns the
// format the device actually runs at. Opening an opened engine returns the
// same format.
func (e *Engine) Open() (Format, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return Format{}, ErrEngineRunning
	}
	if e.opened {
		return e.format, nil
	}
	return e.open()
}

func (e *Engine) open() (Format, error) {
	e.epoch++
	epoch := e.epoch

	format, err := e.driver.Open(e.config, func(in []int16) {
		e.deliver(epoch, in)
	})
	if err != nil {
		return Format{}, fmt.Errorf("failed to open input: %w", err)
	}

	e.opened = true
	e.format = format
	return format, nil
}

// Start installs the tap and starts capture, opening the stream first if
// Open was not called. It returns the format buffers will carry.
func (e *Engine) Start(sinks ...Sink) (Format, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return Format{}, ErrEngineRunning
	}

	if !e.opened {
		if _, err := e.open(); err != nil {
			return Format{}, err
		}
	}

	t := &tap{
		epoch:  e.epoch,
		sinks:  append([]Sink(nil), sinks...),
		format: e.format,
		now:    e.now,
	}
	e.tap.Store(t)

	if err := e.driver.Start(); err != nil {
		e.tap.Store(nil)
		e.opened = false
		if closeErr := e.driver.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return Format{}, fmt.Errorf("failed to start input: %w", err)
	}

	e.running = true
	return e.format, nil
}

// deliver runs on the driver's real-time thread
func (e *Engine) deliver(epoch uint64, in []int16) {
	t := e.tap.Load()
	// A callback from a closed stream or a removed tap must not reach sinks
	if t == nil || t.epoch != epoch {
		return
	}

	samples := make([]int16, len(in))
	copy(samples, in)

	buf := Buffer{
		Seq:      t.seq.Add(1),
		Samples:  samples,
		Format:   t.format,
		Captured: t.now(),
	}
	e.captured.Add(1)

	for _, s := range t.sinks {
		s.Accept(buf)
	}
}

// Stop removes the tap, halts the stream and closes it. Calling Stop on a
// stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opened {
		return nil
	}

	// Remove the tap first so no buffer reaches a sink after Stop returns
	e.tap.Store(nil)
	wasRunning := e.running
	e.running = false
	e.opened = false

	var errs []error
	if wasRunning {
		if err := e.driver.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.driver.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop capture: %w", errors.Join(errs...))
	}
	return nil
}

// Installed reports whether a tap is currently delivering buffers
func (e *Engine) Installed() bool {
	return e.tap.Load() != nil
}

// IsOpen reports whether the input stream is open
func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// IsRunning returns whether capture is active
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Captured returns the total number of buffers delivered since creation
func (e *Engine) Captured() uint64 {
	return e.captured.Load()
}

// Devices lists the input devices the driver can see
func (e *Engine) Devices() ([]Device, error) {
	return e.driver.ListDevices()
}
