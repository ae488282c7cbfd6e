package bvcurve

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/usnistgov/bvcurve/internal/samplelog"
)

func TestSimulatedRanges(t *testing.T) {
	inv := NewSimulatedInventory()
	devices, err := inv.Devices()
	assert.NoError(t, err)
	assert.Len(t, devices, 2)

	ranges, err := devices["USB-3101FS"].OutputRanges()
	assert.NoError(t, err)
	assert.Equal(t, []Range{BIP10VOLTS}, ranges)

	_, err = devices["USB-202"].OutputRanges()
	assert.ErrorIs(t, err, ErrHardwareFailure)
	assert.False(t, devices["USB-202"].Descriptor().SupportsOutput)

	_, err = FindDevice(devices, "USB-1608")
	assert.ErrorIs(t, err, ErrHardwareFailure)
	assert.Contains(t, err.Error(), "USB-202")
}

func TestSimulatedSingleScan(t *testing.T) {
	dev := NewSimulatedDAQ("sim", BIP10VOLTS)
	buf, err := dev.AllocateBuffer(100)
	assert.NoError(t, err)
	req := WaveformRequest{Shape: Square, Amplitude: 2, Frequency: 1000, Duration: 0.001, SampleCount: 100}
	assert.NoError(t, buf.Generate(req, BIP10VOLTS.Converter()))

	assert.NoError(t, dev.StartScan(buf, 0, 100000, BIP10VOLTS, Background))
	assert.Eventually(t, func() bool {
		status, _ := dev.Status()
		return status == Idle
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, dev.Passes())
	frame := dev.LastFrame()
	assert.Len(t, frame, 100)
	assert.InDelta(t, 2, BIP10VOLTS.ToEngUnits(frame[0]), 1e-3)
	assert.InDelta(t, -2, dev.OutputVoltage(0), 1e-3, "DC level holds the last sample")

	assert.NoError(t, dev.SetOutputVoltage(0, BIP10VOLTS, 0))
	assert.InDelta(t, 0, dev.OutputVoltage(0), 1e-3)
}

func TestSimulatedContinuousScan(t *testing.T) {
	dev := NewSimulatedDAQ("sim", BIP10VOLTS)
	buf, err := dev.AllocateBuffer(10)
	assert.NoError(t, err)
	assert.NoError(t, dev.StartScan(buf, 1, 10000, BIP10VOLTS, Background|Continuous))
	assert.Error(t, dev.StartScan(buf, 1, 10000, BIP10VOLTS, Background), "second scan while running")

	assert.Eventually(t, func() bool { return dev.Passes() >= 3 }, time.Second, time.Millisecond)
	status, err := dev.Status()
	assert.NoError(t, err)
	assert.Equal(t, Running, status)

	assert.NoError(t, dev.StopScan())
	status, _ = dev.Status()
	assert.Equal(t, Idle, status)
	assert.NoError(t, dev.StopScan(), "stopping an idle device is fine")

	// A freed buffer ends the scan.
	assert.NoError(t, dev.StartScan(buf, 1, 10000, BIP10VOLTS, Background|Continuous))
	buf.Free()
	assert.Eventually(t, func() bool {
		status, _ := dev.Status()
		return status == Idle
	}, time.Second, time.Millisecond)
	assert.NoError(t, dev.Release())
}

func TestSimulatedRelease(t *testing.T) {
	dev := NewSimulatedDAQ("sim", BIP10VOLTS)
	inv := NewSimulatedInventory(dev)
	assert.NoError(t, dev.Release())
	assert.True(t, dev.Released())
	_, err := dev.AllocateBuffer(10)
	assert.ErrorIs(t, err, ErrHardwareFailure)
	_, err = dev.Status()
	assert.ErrorIs(t, err, ErrHardwareFailure)
	assert.Error(t, dev.SetOutputVoltage(0, BIP10VOLTS, 0))

	devices, err := inv.Devices()
	assert.NoError(t, err)
	assert.False(t, dev.Released(), "enumeration reconnects released devices")
	assert.NoError(t, ReleaseAll(devices))
	assert.True(t, dev.Released())

	// A board without analog output refuses StopScan, but releasing it is fine.
	noscan := NewSimulatedDAQ("USB-202")
	assert.ErrorIs(t, noscan.StopScan(), ErrHardwareFailure)
	assert.NoError(t, noscan.Release())
	assert.True(t, noscan.Released())
}

func TestDuplicateProducts(t *testing.T) {
	a := NewSimulatedDAQ("USB-3101FS", BIP10VOLTS)
	b := NewSimulatedDAQ("USB-3101FS", BIP10VOLTS)
	c := NewSimulatedDAQ("USB-3101FS", BIP10VOLTS)
	inv := NewSimulatedInventory(a, b, c)
	devices, err := inv.Devices()
	assert.NoError(t, err)
	assert.Len(t, devices, 3)
	assert.Same(t, a, devices["USB-3101FS"])
	assert.Same(t, b, devices["USB-3101FS (SIM-USB-3101FS)"])
	assert.Same(t, c, devices["USB-3101FS (SIM-USB-3101FS) #2"])
	assert.NoError(t, ReleaseAll(devices))
	for _, d := range []*SimulatedDAQ{a, b, c} {
		assert.True(t, d.Released())
	}
}

func TestSimulatedBadScan(t *testing.T) {
	dev := NewSimulatedDAQ("sim", BIP10VOLTS)
	buf, _ := dev.AllocateBuffer(10)
	assert.Error(t, dev.StartScan(nil, 0, 1000, BIP10VOLTS, Background))
	assert.Error(t, dev.StartScan(buf, 0, 0, BIP10VOLTS, Background))
	assert.Error(t, dev.StartScan(buf, 0, 1000, Range{Name: "bad"}, Background))

	dev.FailStart = true
	assert.ErrorIs(t, dev.StartScan(buf, 0, 1000, BIP10VOLTS, Background), ErrHardwareFailure)
	dev.FailAllocate = true
	_, err := dev.AllocateBuffer(10)
	assert.ErrorIs(t, err, ErrHardwareFailure)
}

func TestSimulatedRecorder(t *testing.T) {
	var out bytes.Buffer
	w := samplelog.NewWriter(&out, 1000, time.Hour)
	w.WriteHeader("Channel 0")

	dev := NewSimulatedDAQ("sim", BIP10VOLTS)
	NewSimulatedInventory(dev).SetRecorder(w, 2)
	buf, _ := dev.AllocateBuffer(10)
	req := WaveformRequest{Shape: Square, Amplitude: 10, Frequency: 1, Duration: 1, SampleCount: 10}
	assert.NoError(t, buf.Generate(req, BIP10VOLTS.Converter()))
	assert.NoError(t, dev.StartScan(buf, 0, 10000, BIP10VOLTS, Background))
	assert.Eventually(t, func() bool { return dev.Passes() == 1 }, time.Second, time.Millisecond)
	assert.NoError(t, dev.StopScan())
	w.Close()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"Channel 0", "10", "10", "10", "-10", "-10"}, lines)
}
