package silence

import "time"

const (
	// DefaultTimeout is the quiet period after which recording stops
	DefaultTimeout = 1 * time.Second
	// DefaultPollInterval is how often the watchdog is checked
	DefaultPollInterval = 100 * time.Millisecond
)

// Watchdog tracks the time of the last speech activity and reports when the
// quiet period has exceeded the timeout. It is not safe for concurrent use;
// the recording controller owns it on its coordinator goroutine.
type Watchdog struct {
	timeout    time.Duration
	lastSpeech time.Time
	fired      bool
}

// New creates a watchdog. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{timeout: timeout}
}

// MarkSpeech records speech activity at t
func (w *Watchdog) MarkSpeech(t time.Time) {
	if t.After(w.lastSpeech) {
		w.lastSpeech = t
	}
}

// LastSpeech returns the last speech time and whether any speech was seen
func (w *Watchdog) LastSpeech() (time.Time, bool) {
	return w.lastSpeech, !w.lastSpeech.IsZero()
}

// Check reports true exactly once, the first time now is more than the
// timeout past the last speech mark. It never fires before speech is seen.
func (w *Watchdog) Check(now time.Time) bool {
	if w.fired || w.lastSpeech.IsZero() {
		return false
	}
	if now.Sub(w.lastSpeech) > w.timeout {
		w.fired = true
		return true
	}
	return false
}

// Fired reports whether the watchdog has already expired
func (w *Watchdog) Fired() bool {
	return w.fired
}

// Timeout returns the configured quiet period
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Reset forgets all speech marks and re-arms the watchdog
func (w *Watchdog) Reset() {
	w.lastSpeech = time.Time{}
	w.fired = false
}
