package bvcurve

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EmitFunc applies one sweep amplitude to the output, in volts.
type EmitFunc func(amplitude float64) error

// ProgressFunc is told about each ramp element once it has been emitted. It
// is not called for the final zero.
type ProgressFunc func(index int, amplitude float64)

// SweepOutcome summarizes how a sweep ended.
type SweepOutcome struct {
	Completed     bool    // every ramp element was emitted
	Interrupted   bool    // ctx was cancelled before the ramp was exhausted
	Steps         int     // ramp elements emitted, not counting the final zero
	LastAmplitude float64 // last ramp element emitted
}

// RunSweep emits each amplitude of ramp in order, waiting stepDuration after
// each one. Cancelling ctx interrupts the sweep: no further ramp elements are
// emitted. However the sweep ends, emit(0) is called exactly once before
// RunSweep returns, so the output is never left at a nonzero voltage.
func RunSweep(ctx context.Context, ramp VoltageRamp, stepDuration time.Duration, emit EmitFunc) (SweepOutcome, error) {
	return RunSweepWithProgress(ctx, ramp, stepDuration, emit, nil)
}

// RunSweepWithProgress is RunSweep, also calling progress (if not nil) after
// each ramp element is emitted.
func RunSweepWithProgress(ctx context.Context, ramp VoltageRamp, stepDuration time.Duration,
	emit EmitFunc, progress ProgressFunc) (outcome SweepOutcome, err error) {
	defer func() {
		if cerr := emit(0); cerr != nil {
			err = errors.Join(err, fmt.Errorf("zeroing output after sweep: %w", cerr))
		}
	}()

	interrupted := func() error {
		outcome.Interrupted = true
		return fmt.Errorf("%w after %d of %d steps: %w", ErrInterrupted, outcome.Steps, ramp.Len(), context.Cause(ctx))
	}

	for i := 0; i < ramp.Len(); i++ {
		if ctx.Err() != nil {
			return outcome, interrupted()
		}
		amplitude := ramp.At(i)
		if err := emit(amplitude); err != nil {
			return outcome, fmt.Errorf("sweep step %d (%.4f V): %w", i, amplitude, err)
		}
		outcome.Steps++
		outcome.LastAmplitude = amplitude
		if progress != nil {
			progress(i, amplitude)
		}

		if ctx.Err() != nil {
			return outcome, interrupted()
		}
		if stepDuration > 0 {
			timer := time.NewTimer(stepDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return outcome, interrupted()
			case <-timer.C:
			}
		}
	}
	outcome.Completed = true
	return outcome, nil
}
