// Package device wraps the participant's microphone and audio output.
//
// Acquisition and playback are exposed as single-resolution futures with an
// idempotent Cancel. All timers are tracked so that nothing fires once a
// capture or playback has been finished or cancelled.
package device

import "errors"

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceUnavailable   = errors.New("no audio device available")
	ErrDeviceBusy          = errors.New("audio device is held by another session")
	ErrUnsupportedPlatform = errors.New("speech or audio playback not supported")
	ErrCancelled           = errors.New("cancelled")
)

// Skippable reports whether err means the phase should be skipped rather
// than failed.
func Skippable(err error) bool {
	return errors.Is(err, ErrUnsupportedPlatform) || errors.Is(err, ErrDeviceUnavailable)
}
