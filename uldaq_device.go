//go:build uldaq

package bvcurve

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -luldaq
#include <stdlib.h>
#include <uldaq.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

const maxInventory = 16

// ulRanges maps Universal Library range codes to our Range values.
var ulRanges = map[C.Range]Range{
	C.Range(C.BIP10VOLTS): BIP10VOLTS,
	C.Range(C.BIP5VOLTS):  BIP5VOLTS,
	C.Range(C.UNI10VOLTS): UNI10VOLTS,
	C.Range(C.UNI5VOLTS):  UNI5VOLTS,
}

func ulRangeCode(r Range) (C.Range, bool) {
	for code, rng := range ulRanges {
		if rng.Name == r.Name {
			return code, true
		}
	}
	return 0, false
}

// ulError converts a Universal Library error code to an error, or nil.
func ulError(code C.UlError) error {
	if code == C.ERR_NO_ERROR {
		return nil
	}
	var msg [C.ERR_MSG_LEN]C.char
	C.ulGetErrMsg(code, &msg[0])
	return fmt.Errorf("UL error %d: %s", int(code), C.GoString(&msg[0]))
}

// UlDevice is a Device backed by an MCC board through libuldaq.
type UlDevice struct {
	descriptor DeviceDescriptor
	handle     C.DaqDeviceHandle

	mu       sync.Mutex // guards everything below
	cbuf     *C.double  // the library's copy of the scan, in raw counts
	nbuf     int
	scanning bool // this handle started a scan that has not been stopped
	channel int
	rate    float64
	rng     Range
	opts    ScanOptions
}

func (d *UlDevice) hwerr(op string, code C.UlError) error {
	if err := ulError(code); err != nil {
		return hardwareErrorf(d.descriptor.ProductName, op, err)
	}
	return nil
}

// Descriptor returns the device's identity.
func (d *UlDevice) Descriptor() DeviceDescriptor {
	return d.descriptor
}

// OutputRanges asks the library for the analog output ranges it supports.
func (d *UlDevice) OutputRanges() ([]Range, error) {
	var nranges, resolution C.longlong
	if err := d.hwerr("get output ranges", C.ulAOGetInfo(d.handle, C.AO_INFO_NUM_RANGES, 0, &nranges)); err != nil {
		return nil, err
	}
	if err := d.hwerr("get output resolution", C.ulAOGetInfo(d.handle, C.AO_INFO_RESOLUTION, 0, &resolution)); err != nil {
		return nil, err
	}
	var ranges []Range
	for i := 0; i < int(nranges); i++ {
		var code C.longlong
		if err := d.hwerr("get output ranges", C.ulAOGetInfo(d.handle, C.AO_INFO_RANGE, C.uint(i), &code)); err != nil {
			return nil, err
		}
		if rng, ok := ulRanges[C.Range(code)]; ok {
			rng.Bits = uint(resolution)
			ranges = append(ranges, rng)
		}
	}
	if len(ranges) == 0 {
		return nil, hardwareErrorf(d.descriptor.ProductName, "get output ranges",
			fmt.Errorf("device does not support analog output"))
	}
	return ranges, nil
}

// AllocateBuffer allocates the Go side of a scan buffer. The library's copy
// is allocated when the scan starts.
func (d *UlDevice) AllocateBuffer(n int) (*ScanBuffer, error) {
	buf, err := NewScanBuffer(n)
	if err != nil {
		return nil, hardwareErrorf(d.descriptor.ProductName, "allocate buffer", err)
	}
	return buf, nil
}

// StartScan copies buf into library memory and starts an output scan.
func (d *UlDevice) StartScan(buf *ScanBuffer, channel int, rate float64, rng Range, opts ScanOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channel, d.rate, d.rng, d.opts = channel, rate, rng, opts
	return d.startLocked(buf)
}

func (d *UlDevice) startLocked(buf *ScanBuffer) error {
	name := d.descriptor.ProductName
	code, ok := ulRangeCode(d.rng)
	if !ok {
		return hardwareErrorf(name, "start scan", fmt.Errorf("range %v unknown to the library", d.rng))
	}
	n := buf.Len()
	if d.cbuf == nil || d.nbuf != n {
		d.freeLocked()
		d.cbuf = (*C.double)(C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.double(0)))))
		if d.cbuf == nil {
			return hardwareErrorf(name, "allocate buffer", fmt.Errorf("malloc of %d samples failed", n))
		}
		d.nbuf = n
	}
	codes := make([]RawType, n)
	nread, err := buf.Snapshot(codes)
	if err != nil {
		return hardwareErrorf(name, "start scan", err)
	}
	cdata := unsafe.Slice(d.cbuf, n)
	for i, c := range codes[:nread] {
		cdata[i] = C.double(c)
	}

	var scanopts C.ScanOption = C.SO_DEFAULTIO
	if d.opts&Continuous != 0 {
		scanopts |= C.SO_CONTINUOUS
	}
	rate := C.double(d.rate)
	ch := C.int(d.channel)
	if err := d.hwerr("start scan", C.ulAOutScan(d.handle, ch, ch, code, C.int(n), &rate,
		scanopts, C.AOUTSCAN_FF_NOSCALEDATA, d.cbuf)); err != nil {
		return err
	}
	d.scanning = true
	return nil
}

// RefreshScan stops the running scan and restarts it on the current contents
// of buf, because the library plays its own copy of the data.
func (d *UlDevice) RefreshScan(buf *ScanBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopLocked(); err != nil {
		return err
	}
	return d.startLocked(buf)
}

// Status reports whether an output scan is running.
func (d *UlDevice) Status() (ScanStatus, error) {
	var status C.ScanStatus
	var xfer C.TransferStatus
	if err := d.hwerr("get status", C.ulAOutScanStatus(d.handle, &status, &xfer)); err != nil {
		return Idle, err
	}
	if status == C.SS_RUNNING {
		return Running, nil
	}
	return Idle, nil
}

// StopScan stops the output scan started through this handle, if any. Boards
// without scan support refuse ulAOutScanStop, so it is called only after a
// scan was started.
func (d *UlDevice) StopScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *UlDevice) stopLocked() error {
	if !d.scanning {
		return nil
	}
	if err := d.hwerr("stop scan", C.ulAOutScanStop(d.handle)); err != nil {
		return err
	}
	d.scanning = false
	return nil
}

// SetOutputVoltage writes one calibrated value to a channel.
func (d *UlDevice) SetOutputVoltage(channel int, rng Range, volts float64) error {
	code, ok := ulRangeCode(rng)
	if !ok {
		return hardwareErrorf(d.descriptor.ProductName, "set output voltage", fmt.Errorf("range %v unknown to the library", rng))
	}
	return d.hwerr("set output voltage", C.ulAOut(d.handle, C.int(channel), code, C.AOUT_FF_DEFAULT, C.double(volts)))
}

func (d *UlDevice) freeLocked() {
	if d.cbuf != nil {
		C.free(unsafe.Pointer(d.cbuf))
		d.cbuf = nil
		d.nbuf = 0
	}
}

// Release stops any scan started through this handle, frees library memory
// and releases the device.
func (d *UlDevice) Release() error {
	err := d.StopScan()
	d.mu.Lock()
	d.freeLocked()
	d.mu.Unlock()
	C.ulDisconnectDaqDevice(d.handle)
	C.ulReleaseDaqDevice(d.handle)
	return err
}

// UlInventory enumerates MCC devices on any interface.
type UlInventory struct{}

// Devices creates and connects a handle to every detected device, keyed by
// product name. A second board of the same product is keyed by name and
// unique ID. The caller must Release them all.
func (UlInventory) Devices() (map[string]Device, error) {
	var descs [maxInventory]C.DaqDeviceDescriptor
	var ndevs C.uint = maxInventory
	if err := ulError(C.ulGetDaqDeviceInventory(C.ANY_IFC, &descs[0], &ndevs)); err != nil {
		return nil, hardwareErrorf("", "get device inventory", err)
	}
	devices := make(map[string]Device)
	for i := 0; i < int(ndevs); i++ {
		desc := descs[i]
		handle := C.ulCreateDaqDevice(desc)
		name := C.GoString(&desc.productName[0])
		if handle == 0 {
			ReleaseAll(devices)
			return nil, hardwareErrorf(name, "create device", fmt.Errorf("no handle"))
		}
		dev := &UlDevice{
			descriptor: DeviceDescriptor{ProductName: name, UniqueID: C.GoString(&desc.uniqueId[0])},
			handle:     handle,
		}
		if err := ulError(C.ulConnectDaqDevice(handle)); err != nil {
			C.ulReleaseDaqDevice(handle)
			ReleaseAll(devices)
			return nil, hardwareErrorf(name, "connect", err)
		}
		var nchan C.longlong
		if C.ulAOGetInfo(handle, C.AO_INFO_NUM_CHANS, 0, &nchan) == C.ERR_NO_ERROR {
			dev.descriptor.AnalogOutputs = int(nchan)
			dev.descriptor.SupportsOutput = nchan > 0
		}
		devices[inventoryKey(devices, dev.descriptor)] = dev
	}
	return devices, nil
}
