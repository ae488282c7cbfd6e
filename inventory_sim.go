//go:build !uldaq

package bvcurve

// DefaultInventory returns simulated devices. Build with -tags uldaq to drive
// real MCC hardware.
func DefaultInventory() Inventory {
	return NewSimulatedInventory()
}
