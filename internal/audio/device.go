package audio

import (
	"errors"
	"fmt"
)

const (
	// Capture parameters expected by the backend transcriber
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

var (
	// ErrNoInputDevice is returned when the host has no capture device
	ErrNoInputDevice = errors.New("no input device")
	// ErrDeviceLost is reported when the device stops without being asked to
	ErrDeviceLost = errors.New("input device stopped unexpectedly")
	// ErrAlreadyRunning is returned by Start on a running session
	ErrAlreadyRunning = errors.New("capture already running")
)

// DeviceError wraps a failure to acquire or run the microphone
type DeviceError struct {
	Op  string // "init", "open", "start"
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Callbacks receive data from a running device.
// Frames is called on the device's own thread and must not block.
type Callbacks struct {
	Frames func(samples []int16)
	Lost   func(err error)
}

// Device is an exclusively owned microphone handle
type Device interface {
	Start(cb Callbacks) error
	Stop() error
}

// bytesToSamples decodes little-endian S16 PCM
func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// samplesToBytes encodes S16 samples as little-endian PCM
func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
