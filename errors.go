package bvcurve

import (
	"errors"
	"fmt"
)

// Errors returned by waveform generation, sweeping, and device access.
var (
	ErrUnsupportedShape = errors.New("unsupported waveform shape")
	ErrLengthMismatch   = errors.New("buffer length does not match sample count")
	ErrHardwareFailure  = errors.New("hardware failure")
	ErrInterrupted      = errors.New("sweep interrupted")
	ErrBufferFreed      = errors.New("scan buffer has been freed")
	ErrInvalidConfig    = errors.New("invalid sweep configuration")
)

// HardwareError describes a failed operation on a DAQ device.
type HardwareError struct {
	Device string // product name, if known
	Op     string // what we were trying to do
	Err    error  // underlying cause, may be nil
}

func (e *HardwareError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrHardwareFailure, e.Op)
	if e.Device != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Is makes every HardwareError match ErrHardwareFailure.
func (e *HardwareError) Is(target error) bool {
	return target == ErrHardwareFailure
}

func hardwareErrorf(device, op string, err error) error {
	return &HardwareError{Device: device, Op: op, Err: err}
}
