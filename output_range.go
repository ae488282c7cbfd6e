package bvcurve

import (
	"fmt"
	"math"
)

// RawType holds one native output code of a DAC.
type RawType uint16

// Range is an analog output range of a DAQ device. Codes are spread linearly
// over 2^Bits-1 counts from Min to Max.
type Range struct {
	Name string
	Min  float64 // volts at code 0
	Max  float64 // volts at full scale
	Bits uint    // converter resolution, at most 16
}

// Standard ranges, named as in the MCC Universal Library.
var (
	BIP10VOLTS = Range{Name: "BIP10VOLTS", Min: -10, Max: 10, Bits: 16}
	BIP5VOLTS  = Range{Name: "BIP5VOLTS", Min: -5, Max: 5, Bits: 16}
	UNI10VOLTS = Range{Name: "UNI10VOLTS", Min: 0, Max: 10, Bits: 16}
	UNI5VOLTS  = Range{Name: "UNI5VOLTS", Min: 0, Max: 5, Bits: 16}
)

func (r Range) String() string {
	return fmt.Sprintf("%s [%g, %g] V", r.Name, r.Min, r.Max)
}

func (r Range) fullScale() float64 {
	return float64(uint32(1)<<r.Bits - 1)
}

func (r Range) valid() error {
	if r.Bits == 0 || r.Bits > 16 {
		return fmt.Errorf("range %s has %d bits, want 1-16", r.Name, r.Bits)
	}
	if !(r.Max > r.Min) {
		return fmt.Errorf("range %s has Max=%v <= Min=%v", r.Name, r.Max, r.Min)
	}
	return nil
}

// FromEngUnits converts volts to the nearest output code. Voltages outside the
// range are clamped to its ends.
func (r Range) FromEngUnits(volts float64) (RawType, error) {
	if err := r.valid(); err != nil {
		return 0, err
	}
	if math.IsNaN(volts) {
		return 0, fmt.Errorf("cannot convert NaN volts in range %s", r.Name)
	}
	fs := r.fullScale()
	counts := math.Round((volts - r.Min) / (r.Max - r.Min) * fs)
	counts = math.Max(0, math.Min(fs, counts))
	return RawType(counts), nil
}

// ToEngUnits converts an output code back to volts.
func (r Range) ToEngUnits(code RawType) float64 {
	return r.Min + float64(code)/r.fullScale()*(r.Max-r.Min)
}

// Converter binds the range into a ConversionFunc for Generate.
func (r Range) Converter() ConversionFunc[RawType] {
	return r.FromEngUnits
}
