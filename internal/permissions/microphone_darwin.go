//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c -fmodules
#cgo LDFLAGS: -framework AVFoundation

#import <AVFoundation/AVFoundation.h>

int check_microphone_permission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

int request_microphone_permission() {
    __block BOOL result = NO;
    dispatch_semaphore_t sem = dispatch_semaphore_create(0);
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {
        result = granted;
        dispatch_semaphore_signal(sem);
    }];
    dispatch_semaphore_wait(sem, DISPATCH_TIME_FOREVER);
    return result ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"os/exec"
)

// MicrophoneStatus checks if the application has microphone access permission
func MicrophoneStatus() Status {
	return Status(C.check_microphone_permission())
}

func requestMicrophone(ctx context.Context) (Status, error) {
	status := MicrophoneStatus()
	if status != NotDetermined {
		return status, nil
	}

	done := make(chan struct{})
	go func() {
		C.request_microphone_permission()
		close(done)
	}()

	select {
	case <-done:
		return MicrophoneStatus(), nil
	case <-ctx.Done():
		return NotDetermined, ctx.Err()
	}
}

// OpenMicrophoneSettings opens system settings for microphone permission
func OpenMicrophoneSettings() error {
	url := "x-apple.systempreferences:com.apple.preference.security?Privacy_Microphone"
	cmd := exec.Command("open", url)
	return cmd.Run()
}
