package bvcurve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// emitRecorder records every amplitude passed to it.
type emitRecorder struct {
	emitted []float64
	onEmit  func(n int, amplitude float64) error
}

func (r *emitRecorder) emit(amplitude float64) error {
	r.emitted = append(r.emitted, amplitude)
	if r.onEmit != nil {
		return r.onEmit(len(r.emitted), amplitude)
	}
	return nil
}

func mustRamp(t *testing.T, values ...float64) VoltageRamp {
	t.Helper()
	r, err := NewRamp(values...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSweepCompletes(t *testing.T) {
	rec := &emitRecorder{}
	outcome, err := RunSweep(context.Background(), mustRamp(t, 0, 0.5, 1), 0, rec.emit)
	assert.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 0}, rec.emitted)
	assert.Equal(t, SweepOutcome{Completed: true, Steps: 3, LastAmplitude: 1}, outcome)
}

func TestSweepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &emitRecorder{onEmit: func(n int, amplitude float64) error {
		if n == 1 {
			cancel()
		}
		return nil
	}}
	outcome, err := RunSweep(ctx, mustRamp(t, 0.25, 0.5, 1), 0, rec.emit)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []float64{0.25, 0}, rec.emitted, "exactly one cleanup emit after the interrupt")
	assert.True(t, outcome.Interrupted)
	assert.False(t, outcome.Completed)
	assert.Equal(t, 1, outcome.Steps)
}

func TestSweepCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &emitRecorder{}
	outcome, err := RunSweep(ctx, mustRamp(t, 0.25, 0.5), time.Second, rec.emit)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, []float64{0}, rec.emitted)
	assert.Zero(t, outcome.Steps)
}

func TestSweepInterruptedWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := &emitRecorder{}
	start := time.Now()
	outcome, err := RunSweep(ctx, mustRamp(t, 0.25, 0.5), time.Hour, rec.emit)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []float64{0.25, 0}, rec.emitted)
	assert.True(t, outcome.Interrupted)
}

func TestSweepEmitFailure(t *testing.T) {
	boom := errors.New("boom")
	rec := &emitRecorder{onEmit: func(n int, amplitude float64) error {
		if amplitude == 0.5 {
			return boom
		}
		return nil
	}}
	outcome, err := RunSweep(context.Background(), mustRamp(t, 0.25, 0.5, 1), 0, rec.emit)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, []float64{0.25, 0.5, 0}, rec.emitted)
	assert.Equal(t, 1, outcome.Steps)
	assert.False(t, outcome.Completed)
}

func TestSweepCleanupFailure(t *testing.T) {
	stuck := errors.New("output stuck")
	rec := &emitRecorder{onEmit: func(n int, amplitude float64) error {
		if n == 3 {
			return stuck
		}
		return nil
	}}
	outcome, err := RunSweep(context.Background(), mustRamp(t, 0.25, 0.5), 0, rec.emit)
	assert.ErrorIs(t, err, stuck)
	assert.True(t, outcome.Completed)
	assert.Equal(t, []float64{0.25, 0.5, 0}, rec.emitted)
}

func TestSweepProgress(t *testing.T) {
	rec := &emitRecorder{}
	var indices []int
	var amplitudes []float64
	progress := func(i int, a float64) {
		indices = append(indices, i)
		amplitudes = append(amplitudes, a)
	}
	_, err := RunSweepWithProgress(context.Background(), mustRamp(t, 0, 0.5, 1), 0, rec.emit, progress)
	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, indices)
	assert.Equal(t, []float64{0, 0.5, 1}, amplitudes, "the final zero is not a step")
	assert.Equal(t, []float64{0, 0.5, 1, 0}, rec.emitted)
}
