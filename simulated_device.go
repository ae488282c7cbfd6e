package bvcurve

import (
	"fmt"
	"sync"
	"time"

	"github.com/usnistgov/bvcurve/internal/samplelog"
)

// SimulatedDAQ is a Device that plays its scan buffer in software. Each pass
// over the buffer takes len(buffer)/rate seconds of wall-clock time.
type SimulatedDAQ struct {
	descriptor DeviceDescriptor
	ranges     []Range

	// Failure injection, for testing cleanup paths.
	FailAllocate bool
	FailStart    bool

	// Recorder, if not nil, receives every RecordEvery-th played sample in volts.
	Recorder    *samplelog.Writer
	RecordEvery int

	mu        sync.Mutex // guards everything below
	status    ScanStatus
	released  bool
	abort     chan struct{}
	done      chan struct{}
	passes    int
	dcVolts   map[int]float64
	lastFrame []RawType
	scanRange Range
	scanOpts  ScanOptions
}

// NewSimulatedDAQ creates a simulated device with the given product name and
// output ranges. A device with no ranges has no analog output.
func NewSimulatedDAQ(name string, ranges ...Range) *SimulatedDAQ {
	return &SimulatedDAQ{
		descriptor: DeviceDescriptor{
			ProductName:    name,
			UniqueID:       fmt.Sprintf("SIM-%s", name),
			AnalogOutputs:  len(ranges),
			SupportsOutput: len(ranges) > 0,
		},
		ranges:      ranges,
		RecordEvery: 1,
		dcVolts:     make(map[int]float64),
	}
}

// Descriptor returns the device's identity.
func (d *SimulatedDAQ) Descriptor() DeviceDescriptor {
	return d.descriptor
}

// OutputRanges returns the supported analog output ranges.
func (d *SimulatedDAQ) OutputRanges() ([]Range, error) {
	if err := d.usable("get output ranges"); err != nil {
		return nil, err
	}
	if len(d.ranges) == 0 {
		return nil, hardwareErrorf(d.descriptor.ProductName, "get output ranges",
			fmt.Errorf("device does not support analog output"))
	}
	out := make([]Range, len(d.ranges))
	copy(out, d.ranges)
	return out, nil
}

// AllocateBuffer allocates a scan buffer of n samples.
func (d *SimulatedDAQ) AllocateBuffer(n int) (*ScanBuffer, error) {
	if err := d.usable("allocate buffer"); err != nil {
		return nil, err
	}
	if d.FailAllocate {
		return nil, hardwareErrorf(d.descriptor.ProductName, "allocate buffer", fmt.Errorf("out of memory"))
	}
	buf, err := NewScanBuffer(n)
	if err != nil {
		return nil, hardwareErrorf(d.descriptor.ProductName, "allocate buffer", err)
	}
	return buf, nil
}

func (d *SimulatedDAQ) usable(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return hardwareErrorf(d.descriptor.ProductName, op, fmt.Errorf("device was released"))
	}
	return nil
}

// StartScan begins playing buf at rate samples per second. Without the
// Continuous option the scan goes Idle after one pass.
func (d *SimulatedDAQ) StartScan(buf *ScanBuffer, channel int, rate float64, rng Range, opts ScanOptions) error {
	name := d.descriptor.ProductName
	if buf == nil {
		return hardwareErrorf(name, "start scan", fmt.Errorf("nil buffer"))
	}
	if !(rate > 0) {
		return hardwareErrorf(name, "start scan", fmt.Errorf("rate=%v, must be positive", rate))
	}
	if err := rng.valid(); err != nil {
		return hardwareErrorf(name, "start scan", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return hardwareErrorf(name, "start scan", fmt.Errorf("device was released"))
	}
	if d.FailStart {
		return hardwareErrorf(name, "start scan", fmt.Errorf("scan trigger refused"))
	}
	if d.status == Running {
		return hardwareErrorf(name, "start scan", fmt.Errorf("a scan is already running"))
	}

	n := buf.Len()
	timeperbuf := time.Duration(float64(time.Second) * float64(n) / rate)
	d.status = Running
	d.scanRange = rng
	d.scanOpts = opts
	d.abort = make(chan struct{})
	d.done = make(chan struct{})
	go d.play(buf, channel, n, timeperbuf, d.abort, d.done)
	return nil
}

// play is the scan goroutine: one pass over the buffer per timeperbuf.
func (d *SimulatedDAQ) play(buf *ScanBuffer, channel, n int, timeperbuf time.Duration, abort, done chan struct{}) {
	defer close(done)
	frame := make([]RawType, n)
	lastread := time.Now()
	for {
		nextread := lastread.Add(timeperbuf)
		if waittime := time.Until(nextread); waittime > 0 {
			select {
			case <-abort:
				return
			case <-time.After(waittime):
			}
		}
		lastread = time.Now()

		nread, err := buf.Snapshot(frame)
		if err != nil {
			ProblemLogger.Printf("%s: scan stopped reading buffer: %v", d.descriptor.ProductName, err)
			d.mu.Lock()
			d.status = Idle
			d.mu.Unlock()
			return
		}

		d.mu.Lock()
		d.passes++
		d.lastFrame = append(d.lastFrame[:0], frame[:nread]...)
		rng := d.scanRange
		continuous := d.scanOpts&Continuous != 0
		rec, every := d.Recorder, d.RecordEvery
		if nread > 0 {
			d.dcVolts[channel] = rng.ToEngUnits(frame[nread-1])
		}
		if !continuous {
			d.status = Idle
		}
		d.mu.Unlock()

		d.record(rec, every, frame[:nread], rng)
		if !continuous {
			return
		}
	}
}

func (d *SimulatedDAQ) record(rec *samplelog.Writer, every int, frame []RawType, rng Range) {
	if rec == nil {
		return
	}
	if every < 1 {
		every = 1
	}
	for i := 0; i < len(frame); i += every {
		if err := rec.WriteRow(rng.ToEngUnits(frame[i])); err != nil {
			ProblemLogger.Printf("%s: recorder dropped samples: %v", d.descriptor.ProductName, err)
			return
		}
	}
}

// Status reports whether a scan is running.
func (d *SimulatedDAQ) Status() (ScanStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return Idle, hardwareErrorf(d.descriptor.ProductName, "get status", fmt.Errorf("device was released"))
	}
	return d.status, nil
}

// StopScan stops a running scan and waits for it to finish. Stopping an idle
// device is not an error, but like real boards, a device with no analog
// output refuses to stop a scan at all.
func (d *SimulatedDAQ) StopScan() error {
	if len(d.ranges) == 0 {
		return hardwareErrorf(d.descriptor.ProductName, "stop scan", fmt.Errorf("no analog output scan"))
	}
	d.mu.Lock()
	abort, done := d.abort, d.done
	d.abort = nil
	d.mu.Unlock()
	if abort == nil {
		return nil
	}
	close(abort)
	<-done
	d.mu.Lock()
	d.status = Idle
	d.mu.Unlock()
	return nil
}

// SetOutputVoltage sets a DC level on one channel, outside of any scan.
func (d *SimulatedDAQ) SetOutputVoltage(channel int, rng Range, volts float64) error {
	code, err := rng.FromEngUnits(volts)
	if err != nil {
		return hardwareErrorf(d.descriptor.ProductName, "set output voltage", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return hardwareErrorf(d.descriptor.ProductName, "set output voltage", fmt.Errorf("device was released"))
	}
	d.dcVolts[channel] = rng.ToEngUnits(code)
	return nil
}

// Release stops any scan and makes the device unusable.
func (d *SimulatedDAQ) Release() error {
	d.mu.Lock()
	scanning := d.abort != nil
	d.mu.Unlock()
	if scanning {
		if err := d.StopScan(); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	return nil
}

// OutputVoltage returns the last voltage the device applied on channel.
func (d *SimulatedDAQ) OutputVoltage(channel int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dcVolts[channel]
}

// Passes returns the number of completed passes over the scan buffer.
func (d *SimulatedDAQ) Passes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passes
}

// LastFrame returns a copy of the codes played in the most recent pass.
func (d *SimulatedDAQ) LastFrame() []RawType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RawType, len(d.lastFrame))
	copy(out, d.lastFrame)
	return out
}

func (d *SimulatedDAQ) reconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = false
}

// Released reports whether Release has been called.
func (d *SimulatedDAQ) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// SimulatedInventory is an Inventory of simulated devices.
type SimulatedInventory struct {
	devices map[string]*SimulatedDAQ
}

// NewSimulatedInventory returns an inventory holding the given devices. With
// no arguments it models the lab bench: a USB-3101FS analog output module and
// a USB-202 with no usable output range.
func NewSimulatedInventory(devices ...*SimulatedDAQ) *SimulatedInventory {
	if len(devices) == 0 {
		devices = []*SimulatedDAQ{
			NewSimulatedDAQ("USB-3101FS", BIP10VOLTS),
			NewSimulatedDAQ("USB-202"),
		}
	}
	inv := &SimulatedInventory{devices: make(map[string]*SimulatedDAQ)}
	for _, d := range devices {
		inv.devices[inventoryKey(inv.devices, d.Descriptor())] = d
	}
	return inv
}

// Devices returns the simulated devices by product name, qualified by unique
// ID for a second device of the same product. Devices released by
// an earlier session are reconnected, as re-enumerating real hardware would.
func (inv *SimulatedInventory) Devices() (map[string]Device, error) {
	out := make(map[string]Device, len(inv.devices))
	for k, v := range inv.devices {
		v.reconnect()
		out[k] = v
	}
	return out, nil
}

// SetRecorder makes every device in the inventory record its played output,
// one row per every-th sample.
func (inv *SimulatedInventory) SetRecorder(w *samplelog.Writer, every int) {
	for _, d := range inv.devices {
		d.mu.Lock()
		d.Recorder = w
		d.RecordEvery = every
		d.mu.Unlock()
	}
}
