package permissions

import (
	"context"
	"errors"
	"sync"
)

// Status represents the status of a system permission
type Status int

const (
	// NotDetermined means the user hasn't been asked yet
	NotDetermined Status = 0
	// Restricted means the permission is restricted by parental controls
	Restricted Status = 1
	// Denied means the user has explicitly denied the permission
	Denied Status = 2
	// Authorized means the user has authorized the permission
	Authorized Status = 3
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "NotDetermined"
	case Restricted:
		return "Restricted"
	case Denied:
		return "Denied"
	case Authorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// StatusMessage returns a human-readable message for a permission status
func StatusMessage(status Status) string {
	switch status {
	case NotDetermined:
		return "Permission not yet determined"
	case Restricted:
		return "Permission restricted by parental controls"
	case Denied:
		return "Permission denied"
	case Authorized:
		return "Permission authorized"
	default:
		return "Unknown permission status"
	}
}

// Authorizer asks the host for the permissions a recording session needs.
// Both calls may block on user interaction and honor ctx.
type Authorizer interface {
	RequestMicrophone(ctx context.Context) (Status, error)
	RequestRecognition(ctx context.Context) (Status, error)
}

// Result holds the outcome of RequestAll
type Result struct {
	Microphone  Status
	Recognition Status
}

// Granted reports whether every permission is authorized
func (r Result) Granted() bool {
	return r.Microphone == Authorized && r.Recognition == Authorized
}

// Missing returns a message listing missing permissions, or "" when granted
func (r Result) Missing() string {
	var missing []string

	if r.Microphone != Authorized {
		missing = append(missing, "マイク (Microphone)")
	}
	if r.Recognition != Authorized {
		missing = append(missing, "音声認識 (Speech Recognition)")
	}

	if len(missing) == 0 {
		return ""
	}

	message := "以下の権限が必要です:\n"
	for _, perm := range missing {
		message += "  • " + perm + "\n"
	}
	return message
}

// RequestAll asks for microphone and recognition access
func RequestAll(ctx context.Context, a Authorizer) (Result, error) {
	var res Result

	mic, micErr := a.RequestMicrophone(ctx)
	res.Microphone = mic

	rec, recErr := a.RequestRecognition(ctx)
	res.Recognition = rec

	return res, errors.Join(micErr, recErr)
}

// System asks the operating system for microphone access and delegates the
// recognition check to the configured backend
type System struct {
	// Recognition verifies the recognition backend may be used. nil means
	// no check is needed.
	Recognition func(ctx context.Context) error
}

// NewSystem creates a new system authorizer
func NewSystem(recognition func(ctx context.Context) error) *System {
	return &System{Recognition: recognition}
}

// RequestMicrophone asks for microphone access, prompting if undetermined
func (s *System) RequestMicrophone(ctx context.Context) (Status, error) {
	return requestMicrophone(ctx)
}

// RequestRecognition checks the recognition backend
func (s *System) RequestRecognition(ctx context.Context) (Status, error) {
	if s.Recognition == nil {
		return Authorized, nil
	}
	if err := s.Recognition(ctx); err != nil {
		return Denied, err
	}
	return Authorized, nil
}

// Static is an Authorizer with fixed answers
type Static struct {
	Microphone  Status
	Recognition Status
	Err         error

	mu    sync.Mutex
	calls int
}

// Granting returns a Static that authorizes everything
func Granting() *Static {
	return &Static{Microphone: Authorized, Recognition: Authorized}
}

// RequestMicrophone returns the fixed microphone status
func (s *Static) RequestMicrophone(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.Microphone, s.Err
}

// RequestRecognition returns the fixed recognition status
func (s *Static) RequestRecognition(ctx context.Context) (Status, error) {
	return s.Recognition, nil
}

// Calls returns how many times permissions were requested
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
