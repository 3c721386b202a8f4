package audiosession

import (
	"errors"
	"testing"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{Record, "Record"},
		{PlayAndRecord, "PlayAndRecord"},
		{Category(42), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStaticAcquireRelease(t *testing.T) {
	m := &Static{}

	s, err := m.Acquire(Record)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if s.Category != Record {
		t.Errorf("Expected Record category, got %v", s.Category)
	}
	if m.Held() != 1 {
		t.Errorf("Expected 1 held session, got %d", m.Held())
	}

	if err := m.Release(s); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !s.Released() {
		t.Error("Expected session to be marked released")
	}
	if m.Held() != 0 {
		t.Errorf("Expected 0 held sessions, got %d", m.Held())
	}

	if err := m.Release(s); !errors.Is(err, ErrAlreadyReleased) {
		t.Errorf("Expected ErrAlreadyReleased, got %v", err)
	}

	if err := m.Release(nil); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession, got %v", err)
	}
}

func TestStaticAcquireError(t *testing.T) {
	wantErr := errors.New("busy")
	m := &Static{Err: wantErr}

	s, err := m.Acquire(Record)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected %v, got %v", wantErr, err)
	}
	if s != nil {
		t.Error("Expected nil session on error")
	}
	if m.Held() != 0 {
		t.Errorf("Expected 0 held sessions, got %d", m.Held())
	}
}

func TestPortAudioManager(t *testing.T) {
	m := NewPortAudioManager()

	s, err := m.Acquire(Record)
	if err != nil {
		t.Skipf("PortAudio not available: %v", err)
	}

	if m.Active() != 1 {
		t.Errorf("Expected 1 active session, got %d", m.Active())
	}

	if err := m.Release(s); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if m.Active() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", m.Active())
	}

	if err := m.Release(s); !errors.Is(err, ErrAlreadyReleased) {
		t.Errorf("Expected ErrAlreadyReleased, got %v", err)
	}
}
