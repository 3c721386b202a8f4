package level

import (
	"math"
	"sync/atomic"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
)

const (
	// WindowSize is the number of samples kept for visualization
	WindowSize = 30
	// Baseline is the idle value every slot holds after a reset
	Baseline = 0.2
	// MinPower is the power (dBFS) mapped to 0
	MinPower = -50.0
	// MaxPower is the power (dBFS) mapped to 1
	MaxPower = 0.0
	// SilentPower is reported for an empty or all-zero buffer
	SilentPower = -160.0
)

// Normalize maps a power reading in [MinPower, MaxPower] linearly to [0, 1].
// Readings outside the range are clamped.
func Normalize(power float64) float64 {
	if math.IsNaN(power) || power <= MinPower {
		return 0
	}
	if power >= MaxPower {
		return 1
	}
	return (power - MinPower) / (MaxPower - MinPower)
}

// Power returns the average power of 16-bit PCM samples in dBFS
func Power(samples []int16) float64 {
	if len(samples) == 0 {
		return SilentPower
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return SilentPower
	}

	db := 20 * math.Log10(rms)
	if db < SilentPower {
		return SilentPower
	}
	return db
}

// Window is a fixed-length FIFO of normalized level samples.
// The zero value is not ready for use; call NewWindow.
type Window struct {
	samples [WindowSize]float64
}

// NewWindow returns a window filled with Baseline
func NewWindow() *Window {
	w := &Window{}
	w.Reset()
	return w
}

// Push drops the oldest sample and appends v at the end
func (w *Window) Push(v float64) {
	copy(w.samples[:], w.samples[1:])
	w.samples[WindowSize-1] = v
}

// Reset fills every slot with Baseline
func (w *Window) Reset() {
	for i := range w.samples {
		w.samples[i] = Baseline
	}
}

// Samples returns a copy of the window, oldest first
func (w *Window) Samples() [WindowSize]float64 {
	return w.samples
}

// Len always returns WindowSize
func (w *Window) Len() int {
	return len(w.samples)
}

// Meter records the power of the most recent captured buffer.
// Accept is called on the capture thread; Read may be called from anywhere.
type Meter struct {
	power atomic.Uint64
}

// NewMeter creates a meter reporting SilentPower until the first buffer arrives
func NewMeter() *Meter {
	m := &Meter{}
	m.power.Store(math.Float64bits(SilentPower))
	return m
}

// Accept implements audio.Sink
func (m *Meter) Accept(buf audio.Buffer) {
	m.power.Store(math.Float64bits(Power(buf.Samples)))
}

// Read returns the latest power reading in dBFS
func (m *Meter) Read() float64 {
	return math.Float64frombits(m.power.Load())
}

// Sample returns the latest reading normalized to [0, 1]
func (m *Meter) Sample() float64 {
	return Normalize(m.Read())
}
