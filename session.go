package bvcurve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/davecgh/go-spew/spew"
	"github.com/usnistgov/bvcurve/internal/sweepdb"
)

// Session runs one sweep (or one waveform) on a device found in Inventory.
// DB, Updates and OnStep are optional.
type Session struct {
	Config    SweepConfig
	Inventory Inventory
	DB        *sweepdb.Connection
	Updates   chan<- ClientUpdate
	OnStep    func(SweepStep)

	id string
}

// ID returns the unique ID of the session's most recent run.
func (s *Session) ID() string {
	return s.id
}

// scanRefresher is implemented by devices whose scan holds its own copy of the
// buffer, so that a new waveform only takes effect after a refresh.
type scanRefresher interface {
	RefreshScan(buf *ScanBuffer) error
}

// analogOutput bundles the device, buffer and range used by one run.
type analogOutput struct {
	dev     Device
	buf     *ScanBuffer
	rng     Range
	channel int
	rate    float64
	opts    ScanOptions
}

func (o *analogOutput) start() error {
	return o.dev.StartScan(o.buf, o.channel, o.rate, o.rng, o.opts)
}

// apply writes a new waveform into the buffer and makes sure a scan is
// playing it, restarting the scan if the device went idle.
func (o *analogOutput) apply(req WaveformRequest) error {
	if err := o.buf.Generate(req, o.rng.Converter()); err != nil {
		return err
	}
	status, err := o.dev.Status()
	if err != nil {
		return err
	}
	if status == Idle {
		return o.start()
	}
	if r, ok := o.dev.(scanRefresher); ok {
		return r.RefreshScan(o.buf)
	}
	return nil
}

// shutdown stops the scan, forces the channel to zero volts and frees the
// buffer. Every step is attempted even if an earlier one fails.
func (o *analogOutput) shutdown() error {
	var errs []error
	if err := o.dev.StopScan(); err != nil {
		errs = append(errs, fmt.Errorf("stopping scan: %w", err))
	}
	if err := o.dev.SetOutputVoltage(o.channel, o.rng, 0); err != nil {
		errs = append(errs, fmt.Errorf("zeroing output: %w", err))
	}
	o.buf.Free()
	return errors.Join(errs...)
}

// Run performs the configured sweep or waveform. However it ends, the scan is
// stopped, the output is forced to zero volts, the buffer is freed and every
// enumerated device is released before Run returns.
func (s *Session) Run(ctx context.Context) (SweepOutcome, error) {
	cfg := s.Config
	if err := cfg.Validate(); err != nil {
		return SweepOutcome{}, err
	}
	s.id = sweepdb.NewID()
	msg := &sweepdb.SweepMessage{
		ID:          s.id,
		Device:      cfg.Device,
		Mode:        strings.ToLower(cfg.Mode),
		Shape:       cfg.Shape,
		Frequency:   cfg.Frequency,
		SampleRate:  cfg.SampleRate,
		SampleCount: cfg.SampleCount,
		Start:       time.Now(),
	}
	if ramp, err := cfg.VoltageRamp(); err == nil && msg.Mode == ModeSweep {
		msg.RampStart = ramp.At(0)
		msg.RampStop = ramp.At(ramp.Len() - 1)
		msg.RampSteps = ramp.Len()
	}
	s.DB.RecordSweep(msg)
	UpdateLogger.Printf("Starting %s %s on %s (sweep %s)", msg.Mode, cfg.Shape, cfg.Device, s.id)

	outcome, err := s.run(ctx)

	msg.Steps = outcome.Steps
	msg.Completed = outcome.Completed
	msg.Interrupted = outcome.Interrupted
	if err != nil {
		msg.Error = err.Error()
		if outcome.Interrupted {
			UpdateLogger.Printf("Sweep %s interrupted after %d steps; output zeroed", s.id, outcome.Steps)
		} else {
			ProblemLogger.Printf("Sweep %s failed: %v", s.id, err)
		}
	} else {
		UpdateLogger.Printf("Sweep %s completed after %d steps", s.id, outcome.Steps)
	}
	s.DB.FinishSweep(msg)
	publishNonBlocking(s.Updates, NewClientUpdate("DONE", outcome))
	return outcome, err
}

// enumerateBackoff paces retries of a failed device enumeration, which can
// happen while a USB device is still attaching.
func enumerateBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

func enumerate(ctx context.Context, inv Inventory) (devices map[string]Device, err error) {
	op := func() error {
		devices, err = inv.Devices()
		if err != nil {
			ProblemLogger.Printf("enumerating DAQ devices: %v", err)
		}
		return err
	}
	if rerr := backoff.Retry(op, backoff.WithContext(enumerateBackoff(), ctx)); rerr != nil {
		return nil, rerr
	}
	return devices, nil
}

func (s *Session) run(ctx context.Context) (outcome SweepOutcome, err error) {
	cfg := s.Config
	devices, err := enumerate(ctx, s.Inventory)
	if err != nil {
		return outcome, hardwareErrorf("", "enumerate devices", err)
	}
	defer func() {
		UpdateLogger.Printf("Releasing %d DAQ devices", len(devices))
		if rerr := ReleaseAll(devices); rerr != nil {
			err = errors.Join(err, hardwareErrorf("", "release devices", rerr))
		}
	}()
	UpdateLogger.Printf("Configuring %d DAQ devices", len(devices))
	for name, dev := range devices {
		UpdateLogger.Printf("Device %s: %s", name, spew.Sdump(dev.Descriptor()))
	}

	dev, err := FindDevice(devices, cfg.Device)
	if err != nil {
		return outcome, err
	}
	ranges, err := dev.OutputRanges()
	if err != nil {
		return outcome, err
	}
	if cfg.RangeIndex >= len(ranges) {
		return outcome, hardwareErrorf(cfg.Device, "select output range",
			fmt.Errorf("range index %d, but device supports only %v", cfg.RangeIndex, ranges))
	}
	rng := ranges[cfg.RangeIndex]
	UpdateLogger.Printf("Supported ranges: %v; using %v", ranges, rng)

	buf, err := dev.AllocateBuffer(cfg.SampleCount)
	if err != nil {
		return outcome, err
	}
	out := &analogOutput{
		dev:     dev,
		buf:     buf,
		rng:     rng,
		channel: cfg.Channel,
		rate:    cfg.SampleRate,
		opts:    cfg.ScanOptions(),
	}
	defer func() {
		if serr := out.shutdown(); serr != nil {
			err = errors.Join(err, hardwareErrorf(cfg.Device, "shut down output", serr))
		}
	}()

	if strings.ToLower(cfg.Mode) == ModeWaveform {
		return s.playWaveform(ctx, out)
	}
	return s.sweep(ctx, out)
}

// sweep starts a scan of zeros and then steps the waveform amplitude through
// the configured ramp.
func (s *Session) sweep(ctx context.Context, out *analogOutput) (SweepOutcome, error) {
	cfg := s.Config
	ramp, err := cfg.VoltageRamp()
	if err != nil {
		return SweepOutcome{}, err
	}
	zero, err := cfg.Request(0)
	if err != nil {
		return SweepOutcome{}, err
	}
	if err := out.buf.Generate(zero, out.rng.Converter()); err != nil {
		return SweepOutcome{}, err
	}
	if err := out.start(); err != nil {
		return SweepOutcome{}, err
	}
	UpdateLogger.Printf("Start: %.2f V | Stop: %.2f V | %d steps of %v", ramp.At(0), ramp.At(ramp.Len()-1), ramp.Len(), cfg.StepDuration)

	emit := func(amplitude float64) error {
		req, err := cfg.Request(amplitude)
		if err != nil {
			return err
		}
		if err := out.apply(req); err != nil {
			return err
		}
		UpdateLogger.Printf("Voltage: %.4f V", amplitude)
		return nil
	}
	progress := func(index int, amplitude float64) {
		step := SweepStep{SweepID: s.id, Index: index, Amplitude: amplitude, Total: ramp.Len()}
		s.DB.RecordStep(&sweepdb.StepMessage{SweepID: s.id, Index: index, Amplitude: amplitude, Time: time.Now()})
		publishNonBlocking(s.Updates, NewClientUpdate("STEP", step))
		if s.OnStep != nil {
			s.OnStep(step)
		}
	}
	return RunSweepWithProgress(ctx, ramp, cfg.StepDuration, emit, progress)
}

// playWaveform outputs a single waveform and polls the device until the scan
// goes idle or ctx is cancelled. A continuous scan runs until cancelled.
func (s *Session) playWaveform(ctx context.Context, out *analogOutput) (SweepOutcome, error) {
	cfg := s.Config
	var outcome SweepOutcome
	req, err := cfg.Request(cfg.Amplitude)
	if err != nil {
		return outcome, err
	}
	if err := out.buf.Generate(req, out.rng.Converter()); err != nil {
		return outcome, err
	}
	if err := out.start(); err != nil {
		return outcome, err
	}
	outcome.Steps = 1
	outcome.LastAmplitude = cfg.Amplitude
	UpdateLogger.Printf("Outputting %s wave of %.4f V at %g Hz, %g samples/s", cfg.Shape, cfg.Amplitude, cfg.Frequency, cfg.SampleRate)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			outcome.Interrupted = true
			return outcome, fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
		case <-ticker.C:
			status, err := out.dev.Status()
			if err != nil {
				return outcome, err
			}
			if status == Idle {
				UpdateLogger.Printf("Scan completed successfully")
				outcome.Completed = true
				return outcome, nil
			}
		}
	}
}
