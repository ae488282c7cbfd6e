package bvcurve

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session modes.
const (
	ModeSweep    = "sweep"    // step amplitude through a ramp
	ModeWaveform = "waveform" // play one waveform until the scan is idle
)

// SweepConfig holds every parameter of a BV sweep or a single waveform run.
// SampleRate and Frequency are independent: the scan clock and the waveform
// frequency are both given explicitly.
type SweepConfig struct {
	Device     string `mapstructure:"device"`
	Channel    int    `mapstructure:"channel"`
	RangeIndex int    `mapstructure:"rangeindex"`
	Mode       string `mapstructure:"mode"`

	Shape       string  `mapstructure:"shape"`
	Amplitude   float64 `mapstructure:"amplitude"` // volts, waveform mode only
	Frequency   float64 `mapstructure:"frequency"` // Hz
	SampleRate  float64 `mapstructure:"samplerate"`
	Duration    float64 `mapstructure:"duration"` // seconds covered by one buffer
	SampleCount int     `mapstructure:"samplecount"`
	Continuous  bool    `mapstructure:"continuous"`

	RampStart float64   `mapstructure:"rampstart"`
	RampStop  float64   `mapstructure:"rampstop"`
	RampStep  float64   `mapstructure:"rampstep"`
	Ramp      []float64 `mapstructure:"ramp"` // explicit ramp, overrides start/stop/step

	StepDuration time.Duration `mapstructure:"stepduration"`
	PollInterval time.Duration `mapstructure:"pollinterval"`

	DBAddr string `mapstructure:"dbaddr"` // ClickHouse host:port; empty disables recording
}

// DefaultSweepConfig returns the settings used on the lab bench: a 5 kHz
// square wave on a USB-3101FS, swept from 0 to 2.6 V in 50 mV steps of 1 s.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Device:       "USB-3101FS",
		Channel:      0,
		RangeIndex:   0,
		Mode:         ModeSweep,
		Shape:        "square",
		Amplitude:    1.0,
		Frequency:    5000,
		SampleRate:   100000,
		Duration:     1,
		SampleCount:  100000,
		Continuous:   true,
		RampStart:    0,
		RampStop:     2.65,
		RampStep:     0.05,
		StepDuration: time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// SetViperDefaults registers DefaultSweepConfig under the "sweep" key.
func SetViperDefaults(v *viper.Viper) {
	d := DefaultSweepConfig()
	v.SetDefault("sweep.device", d.Device)
	v.SetDefault("sweep.channel", d.Channel)
	v.SetDefault("sweep.rangeindex", d.RangeIndex)
	v.SetDefault("sweep.mode", d.Mode)
	v.SetDefault("sweep.shape", d.Shape)
	v.SetDefault("sweep.amplitude", d.Amplitude)
	v.SetDefault("sweep.frequency", d.Frequency)
	v.SetDefault("sweep.samplerate", d.SampleRate)
	v.SetDefault("sweep.duration", d.Duration)
	v.SetDefault("sweep.samplecount", d.SampleCount)
	v.SetDefault("sweep.continuous", d.Continuous)
	v.SetDefault("sweep.rampstart", d.RampStart)
	v.SetDefault("sweep.rampstop", d.RampStop)
	v.SetDefault("sweep.rampstep", d.RampStep)
	v.SetDefault("sweep.stepduration", d.StepDuration)
	v.SetDefault("sweep.pollinterval", d.PollInterval)
	v.SetDefault("sweep.dbaddr", d.DBAddr)
}

// LoadSweepConfig reads the "sweep" section of v on top of the defaults.
func LoadSweepConfig(v *viper.Viper) (SweepConfig, error) {
	cfg := DefaultSweepConfig()
	if err := v.UnmarshalKey("sweep", &cfg); err != nil {
		return cfg, fmt.Errorf("reading sweep config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c SweepConfig) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("sweep config: no device named")
	}
	if c.Channel < 0 || c.RangeIndex < 0 {
		return fmt.Errorf("sweep config: channel=%d and rangeindex=%d must not be negative", c.Channel, c.RangeIndex)
	}
	switch strings.ToLower(c.Mode) {
	case ModeSweep:
		if _, err := c.VoltageRamp(); err != nil {
			return fmt.Errorf("sweep config: %w", err)
		}
	case ModeWaveform:
		if c.PollInterval <= 0 {
			return fmt.Errorf("sweep config: pollinterval=%v must be positive", c.PollInterval)
		}
	default:
		return fmt.Errorf("sweep config: mode %q is not %q or %q", c.Mode, ModeSweep, ModeWaveform)
	}
	if !(c.SampleRate > 0) {
		return fmt.Errorf("sweep config: samplerate=%v must be positive", c.SampleRate)
	}
	if c.StepDuration < 0 {
		return fmt.Errorf("sweep config: stepduration=%v must not be negative", c.StepDuration)
	}
	req, err := c.Request(c.Amplitude)
	if err != nil {
		return fmt.Errorf("sweep config: %w", err)
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("sweep config: %w", err)
	}
	return nil
}

// Request builds the waveform request for one amplitude.
func (c SweepConfig) Request(amplitude float64) (WaveformRequest, error) {
	shape, err := ParseShape(c.Shape)
	if err != nil {
		return WaveformRequest{}, err
	}
	return WaveformRequest{
		Shape:       shape,
		Amplitude:   amplitude,
		Frequency:   c.Frequency,
		Duration:    c.Duration,
		SampleCount: c.SampleCount,
	}, nil
}

// VoltageRamp builds the sweep ramp, preferring an explicit list.
func (c SweepConfig) VoltageRamp() (VoltageRamp, error) {
	if len(c.Ramp) > 0 {
		return NewRamp(c.Ramp...)
	}
	return NewLinearRamp(c.RampStart, c.RampStop, c.RampStep)
}

// ScanOptions returns the options for the output scan.
func (c SweepConfig) ScanOptions() ScanOptions {
	if c.Continuous {
		return Background | Continuous
	}
	return Background
}
