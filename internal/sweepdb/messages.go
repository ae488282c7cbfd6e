package sweepdb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the sessions table: one row per
// bvcurve process.
type SessionMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// SweepMessage is the information required to make an entry in the sweeps table.
type SweepMessage struct {
	ID          string
	SessionID   string
	Device      string
	Mode        string
	Shape       string
	Frequency   float64
	SampleRate  float64
	SampleCount int
	RampStart   float64
	RampStop    float64
	RampSteps   int
	Steps       int
	Completed   bool
	Interrupted bool
	Error       string
	Start       time.Time
	End         time.Time
}

// StepMessage is the information for one row in the steps table.
type StepMessage struct {
	SweepID   string
	Index     int
	Amplitude float64
	Time      time.Time
}
