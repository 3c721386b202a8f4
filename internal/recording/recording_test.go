package recording

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yok-tottii/ezs2t-live/internal/audiosession"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SilenceTimeout != time.Second {
		t.Errorf("Expected SilenceTimeout 1s, got %v", config.SilenceTimeout)
	}
	if config.PollInterval != 100*time.Millisecond {
		t.Errorf("Expected PollInterval 100ms, got %v", config.PollInterval)
	}
	if config.LevelInterval != 100*time.Millisecond {
		t.Errorf("Expected LevelInterval 100ms, got %v", config.LevelInterval)
	}
	if config.Locale != "en-US" {
		t.Errorf("Expected Locale en-US, got %s", config.Locale)
	}
	if config.Category != audiosession.Record {
		t.Errorf("Expected Record category, got %s", config.Category)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "Idle"},
		{Preparing, "Preparing"},
		{Recording, "Recording"},
		{Stopping, "Stopping"},
		{Failed, "Failed"},
		{State(42), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestTaskTicksUntilStopped(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var ticks atomic.Int32

	tk := startTask(fc, 100*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	})

	for i := 0; i < 3; i++ {
		before := ticks.Load()
		fc.Advance(100 * time.Millisecond)
		waitFor(t, "tick", func() bool { return ticks.Load() > before })
	}

	tk.stop()
	tk.stop()

	stopped := ticks.Load()
	fc.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)

	if ticks.Load() != stopped {
		t.Errorf("Expected no ticks after stop, got %d more", ticks.Load()-stopped)
	}
}

func TestTaskStopCancelsBlockedCallback(t *testing.T) {
	fc := clockwork.NewFakeClock()
	entered := make(chan struct{}, 1)

	tk := startTask(fc, 100*time.Millisecond, func(ctx context.Context) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
	})

	fc.Advance(100 * time.Millisecond)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Task callback did not run")
	}

	done := make(chan struct{})
	go func() {
		tk.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return while the callback was blocked")
	}
}

func TestSessionStopTasksWithoutTasks(t *testing.T) {
	s := &Session{}
	s.stopTasks()
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
