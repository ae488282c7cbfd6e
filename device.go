package bvcurve

import (
	"fmt"
	"sort"
	"strings"
)

// ScanOptions are flags controlling a hardware output scan.
type ScanOptions uint32

// Scan option flags.
const (
	Background ScanOptions = 1 << iota // return immediately, scan runs in the background
	Continuous                         // replay the buffer until stopped
)

func (o ScanOptions) String() string {
	var names []string
	if o&Background != 0 {
		names = append(names, "BACKGROUND")
	}
	if o&Continuous != 0 {
		names = append(names, "CONTINUOUS")
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// ScanStatus is the state of a device's analog output scan.
type ScanStatus int

// Possible values of ScanStatus.
const (
	Idle ScanStatus = iota
	Running
)

func (s ScanStatus) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "IDLE"
}

// DeviceDescriptor identifies a DAQ device found during enumeration.
type DeviceDescriptor struct {
	ProductName    string
	UniqueID       string
	AnalogOutputs  int
	SupportsOutput bool
}

// Device is a handle to one DAQ device with analog output.
type Device interface {
	Descriptor() DeviceDescriptor
	OutputRanges() ([]Range, error)
	AllocateBuffer(n int) (*ScanBuffer, error)
	StartScan(buf *ScanBuffer, channel int, rate float64, rng Range, opts ScanOptions) error
	Status() (ScanStatus, error)
	StopScan() error
	SetOutputVoltage(channel int, rng Range, volts float64) error
	Release() error
}

// Inventory enumerates connected DAQ devices by product name.
type Inventory interface {
	Devices() (map[string]Device, error)
}

// inventoryKey returns the name under which to add a device to devices: its
// product name, qualified by its unique ID (and then a count) when another
// device already holds that name.
func inventoryKey[D any](devices map[string]D, desc DeviceDescriptor) string {
	key := desc.ProductName
	if _, taken := devices[key]; !taken {
		return key
	}
	key = fmt.Sprintf("%s (%s)", desc.ProductName, desc.UniqueID)
	for n := 2; ; n++ {
		if _, taken := devices[key]; !taken {
			return key
		}
		key = fmt.Sprintf("%s (%s) #%d", desc.ProductName, desc.UniqueID, n)
	}
}

// FindDevice looks up a device by product name, listing what was found if
// there is no match.
func FindDevice(devices map[string]Device, name string) (Device, error) {
	if dev, ok := devices[name]; ok {
		return dev, nil
	}
	names := make([]string, 0, len(devices))
	for n := range devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, hardwareErrorf(name, "find device",
		fmt.Errorf("not among %d connected devices %v", len(devices), names))
}

// ReleaseAll releases every device, returning the first error seen.
func ReleaseAll(devices map[string]Device) error {
	var firstErr error
	for name, dev := range devices {
		if err := dev.Release(); err != nil {
			ProblemLogger.Printf("releasing DAQ device %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
