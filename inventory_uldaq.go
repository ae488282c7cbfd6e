//go:build uldaq

package bvcurve

// DefaultInventory returns the inventory of connected MCC hardware.
func DefaultInventory() Inventory {
	return UlInventory{}
}
