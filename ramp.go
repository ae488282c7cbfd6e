package bvcurve

import (
	"fmt"
	"math"
)

// maxRampSteps bounds the length of a generated ramp.
const maxRampSteps = 1 << 20

// VoltageRamp is an immutable, monotonic sequence of sweep amplitudes.
type VoltageRamp struct {
	values []float64
}

// NewRamp builds a ramp from explicit values, which must be non-empty,
// free of NaN, and either non-decreasing or non-increasing.
func NewRamp(values ...float64) (VoltageRamp, error) {
	if len(values) == 0 {
		return VoltageRamp{}, fmt.Errorf("voltage ramp must have at least one value")
	}
	rising, falling := true, true
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return VoltageRamp{}, fmt.Errorf("voltage ramp value %d is %v", i, v)
		}
		if i > 0 {
			rising = rising && v >= values[i-1]
			falling = falling && v <= values[i-1]
		}
	}
	if !rising && !falling {
		return VoltageRamp{}, fmt.Errorf("voltage ramp %v is not monotonic", values)
	}
	vcopy := make([]float64, len(values))
	copy(vcopy, values)
	return VoltageRamp{values: vcopy}, nil
}

// NewLinearRamp returns start, start+step, ... up to but excluding stop, the
// same points as numpy.arange(start, stop, step). It refuses ramps longer
// than maxRampSteps.
func NewLinearRamp(start, stop, step float64) (VoltageRamp, error) {
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return VoltageRamp{}, fmt.Errorf("voltage ramp start=%v, stop=%v, step=%v must be finite", start, stop, step)
		}
	}
	if step == 0 {
		return VoltageRamp{}, fmt.Errorf("voltage ramp step=%v, must be nonzero", step)
	}
	span := stop - start
	if span == 0 || math.Signbit(span) != math.Signbit(step) {
		return VoltageRamp{}, fmt.Errorf("voltage ramp from %v to %v cannot use step %v", start, stop, step)
	}
	steps := math.Ceil(span / step)
	if math.IsInf(steps, 0) || steps > maxRampSteps {
		return VoltageRamp{}, fmt.Errorf("voltage ramp from %v to %v by %v has %v steps, more than %d",
			start, stop, step, steps, maxRampSteps)
	}
	n := int(steps)
	values := make([]float64, n)
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return NewRamp(values...)
}

// Len returns the number of steps in the ramp.
func (r VoltageRamp) Len() int {
	return len(r.values)
}

// At returns the i-th amplitude.
func (r VoltageRamp) At(i int) float64 {
	return r.values[i]
}

// Values returns a copy of the ramp's amplitudes.
func (r VoltageRamp) Values() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Max returns the largest absolute amplitude in the ramp.
func (r VoltageRamp) Max() float64 {
	max := 0.0
	for _, v := range r.values {
		max = math.Max(max, math.Abs(v))
	}
	return max
}
