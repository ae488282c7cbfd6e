package bvcurve

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func identity(v float64) (float64, error) { return v, nil }

func TestTimeAxis(t *testing.T) {
	req := WaveformRequest{Shape: Sine, Amplitude: 1, Frequency: 1, Duration: 1, SampleCount: 4}
	expect := []float64{0, 1.0 / 3, 2.0 / 3, 1}
	for i, want := range expect {
		assert.InDelta(t, want, req.timeAt(i), 1e-15, "sample %d", i)
	}
	assert.Equal(t, 1.0, req.timeAt(3), "last sample must land exactly on Duration")

	req.SampleCount = 1
	assert.Equal(t, 0.0, req.timeAt(0))
}

func TestGenerateSine(t *testing.T) {
	req := WaveformRequest{Shape: Sine, Amplitude: 2, Frequency: 1, Duration: 1, SampleCount: 4}
	buf := make([]float64, 4)
	if err := Generate(req, buf, identity); err != nil {
		t.Fatal(err)
	}
	expect := []float64{0, 2 * math.Sin(2*math.Pi/3), 2 * math.Sin(4*math.Pi/3), 0}
	assert.InDeltaSlice(t, expect, buf, 1e-12)

	vals, err := Values(req)
	assert.NoError(t, err)
	assert.InDeltaSlice(t, buf, vals, 1e-12)
}

func TestGenerateSquare(t *testing.T) {
	req := WaveformRequest{Shape: Square, Amplitude: 1.5, Frequency: 1, Duration: 1, SampleCount: 4}
	buf := make([]float64, 4)
	if err := Generate(req, buf, identity); err != nil {
		t.Fatal(err)
	}
	// sin(2π) is a hair below zero in floating point, so the last sample is negative.
	assert.Equal(t, []float64{1.5, 1.5, -1.5, -1.5}, buf)

	req.Frequency = 5000
	req.SampleCount = 1000
	buf = make([]float64, req.SampleCount)
	assert.NoError(t, Generate(req, buf, identity))
	for i, v := range buf {
		if v != 1.5 && v != -1.5 {
			t.Errorf("square wave sample %d = %v, want ±1.5", i, v)
		}
	}

	// A single sample sits at t=0, where sign(0) counts as positive.
	req.SampleCount = 1
	one := make([]float64, 1)
	assert.NoError(t, Generate(req, one, identity))
	assert.Equal(t, 1.5, one[0])
}

func TestGenerateZeroAmplitude(t *testing.T) {
	for _, shape := range []Shape{Sine, Square} {
		req := WaveformRequest{Shape: shape, Amplitude: 0, Frequency: 5000, Duration: 1, SampleCount: 100}
		buf := make([]float64, 100)
		assert.NoError(t, Generate(req, buf, identity))
		for _, v := range buf {
			assert.Zero(t, math.Abs(v))
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	req := WaveformRequest{Shape: Sine, Amplitude: 1, Frequency: 10, Duration: 1, SampleCount: 10}
	err := Generate(req, make([]float64, 9), identity)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	bad := req
	bad.Shape = Shape(7)
	err = Generate(bad, make([]float64, 10), identity)
	assert.ErrorIs(t, err, ErrUnsupportedShape)

	_, err = ParseShape("triangle")
	assert.ErrorIs(t, err, ErrUnsupportedShape)
	shape, err := ParseShape(" Square")
	assert.NoError(t, err)
	assert.Equal(t, Square, shape)

	bad = req
	bad.SampleCount = 0
	assert.Error(t, Generate(bad, []float64{}, identity))
	bad = req
	bad.Duration = 0
	assert.Error(t, Generate(bad, make([]float64, 10), identity))

	// A conversion failure stops generation and names the sample.
	tooBig := errors.New("too big")
	calls := 0
	limit := func(v float64) (float64, error) {
		calls++
		if v > 0.5 {
			return 0, tooBig
		}
		return v, nil
	}
	err = Generate(req, make([]float64, 10), limit)
	assert.ErrorIs(t, err, tooBig)
	assert.Contains(t, err.Error(), fmt.Sprintf("sample %d", calls-1))
}

func TestGenerateCodes(t *testing.T) {
	req := WaveformRequest{Shape: Square, Amplitude: 10, Frequency: 1, Duration: 1, SampleCount: 4}
	codes := make([]RawType, 4)
	assert.NoError(t, Generate(req, codes, BIP10VOLTS.Converter()))
	assert.Equal(t, []RawType{65535, 65535, 0, 0}, codes)
}
