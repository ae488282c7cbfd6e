package bvcurve

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Shape selects the waveform synthesized by Generate.
type Shape int

// Supported waveform shapes.
const (
	Sine Shape = iota
	Square
)

func (s Shape) String() string {
	switch s {
	case Sine:
		return "sine"
	case Square:
		return "square"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// ParseShape converts "sine" or "square" (any case) to a Shape.
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sine":
		return Sine, nil
	case "square":
		return Square, nil
	}
	return Sine, fmt.Errorf("%w: %q", ErrUnsupportedShape, name)
}

// WaveformRequest holds everything needed to compute one buffer of output.
// Amplitude is in volts, Frequency in Hz and Duration in seconds.
type WaveformRequest struct {
	Shape       Shape
	Amplitude   float64
	Frequency   float64
	Duration    float64
	SampleCount int
}

// Validate checks the request invariants: at least one sample, a positive
// duration and a known shape.
func (r WaveformRequest) Validate() error {
	if r.Shape != Sine && r.Shape != Square {
		return fmt.Errorf("%w: %v", ErrUnsupportedShape, r.Shape)
	}
	if r.SampleCount <= 0 {
		return fmt.Errorf("waveform SampleCount=%d, must be positive", r.SampleCount)
	}
	if !(r.Duration > 0) {
		return fmt.Errorf("waveform Duration=%v, must be positive", r.Duration)
	}
	return nil
}

// ConversionFunc maps a value in volts to the device's native output encoding.
type ConversionFunc[T any] func(volts float64) (T, error)

// timeAt returns the i-th point of SampleCount evenly spaced times over
// [0, Duration], both ends included.
func (r WaveformRequest) timeAt(i int) float64 {
	if r.SampleCount < 2 {
		return 0
	}
	if i == r.SampleCount-1 {
		return r.Duration
	}
	step := r.Duration / float64(r.SampleCount-1)
	return step * float64(i)
}

// valueAt computes the waveform value in volts at time t.
func (r WaveformRequest) valueAt(t float64) float64 {
	s := math.Sin(2 * math.Pi * r.Frequency * t)
	if r.Shape == Square {
		// sign(0) counts as positive
		if s < 0 {
			return -r.Amplitude
		}
		return r.Amplitude
	}
	return r.Amplitude * s
}

// Generate fills buf in place with the requested waveform, passing each
// sample through convert in index order. buf must have exactly
// req.SampleCount elements. If convert fails, the contents of buf are
// unspecified and the caller must generate again before using it.
func Generate[T any](req WaveformRequest, buf []T, convert ConversionFunc[T]) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if len(buf) != req.SampleCount {
		return fmt.Errorf("%w: len(buf)=%d, SampleCount=%d", ErrLengthMismatch, len(buf), req.SampleCount)
	}
	for i := range buf {
		code, err := convert(req.valueAt(req.timeAt(i)))
		if err != nil {
			return fmt.Errorf("converting sample %d: %w", i, err)
		}
		buf[i] = code
	}
	return nil
}

// Values returns the waveform in volts, before any conversion.
func Values(req WaveformRequest) ([]float64, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t := make([]float64, req.SampleCount)
	if len(t) > 1 {
		floats.Span(t, 0, req.Duration)
	}
	for i, ti := range t {
		t[i] = req.valueAt(ti)
	}
	return t, nil
}
