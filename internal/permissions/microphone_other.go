//go:build !darwin

package permissions

import (
	"context"
	"errors"
)

// MicrophoneStatus always reports Authorized: there is no per-application
// microphone consent on this platform
func MicrophoneStatus() Status {
	return Authorized
}

func requestMicrophone(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return NotDetermined, err
	}
	return MicrophoneStatus(), nil
}

// OpenMicrophoneSettings is not supported on this platform
func OpenMicrophoneSettings() error {
	return errors.New("microphone settings are not available on this platform")
}
