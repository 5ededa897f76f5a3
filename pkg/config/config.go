package config

import (
	"errors"
	"fmt"
	"time"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	LogLevel           string // sets the log level (zap log level values)
	LogFormat          string // text vs json
	LogFilter          string // zapfilter rules applied to log entries
	EnableTelemetry    bool   // enable telemetry
	TelemetryEndpoint  string // endpoint for telemetry
	TelemetryStdout    bool   // write telemetry data to stdout instead of OTLP endpoint
	ProfilingPort      int    // port for profiling
	NatsURL            string // URL of the NATS server, empty for in-process transport
	SessionKey         string // key of the race session, used for NATS subjects
	TrackDir           string // directory containing track files
	TrackName          string // name of the track (file name without .yml)
	ListenAddr         string // listen addr for the live standings endpoint
	WaitForServices    string // duration to wait for required services (NATS)
	CorsAllowedOrigins []string
)

var ErrInvalidSettings = errors.New("invalid race settings")

// RaceSettings holds the tunables of the progress engine
type RaceSettings struct {
	// distance at which a waypoint counts as passed
	ProximityThreshold float64
	// factor K applied to the forward movement since the last sample
	MovementBonusFactor float64
	// upper bound of the movement bonus as a fraction of one segment (1/N)
	MaxBonusFraction float64
	// minimum progress change the authority reports
	ChangeEpsilon float64
	// minimum progress change a replica reports (<= ChangeEpsilon)
	ReplicaChangeEpsilon float64
	TotalLaps            int
	TickRate             int // authoritative ticks per second
	RefreshRate          int // display refreshes per second
	// interval for sending the full state of all local racers again
	ResyncInterval time.Duration
}

func DefaultRaceSettings() RaceSettings {
	return RaceSettings{
		ProximityThreshold:   10,
		MovementBonusFactor:  0.001,
		MaxBonusFraction:     0.5,
		ChangeEpsilon:        1e-4,
		ReplicaChangeEpsilon: 1e-4,
		TotalLaps:            1,
		TickRate:             60,
		RefreshRate:          30,
		ResyncInterval:       2 * time.Second,
	}
}

//nolint:cyclop // plain checks
func (s RaceSettings) Validate() error {
	switch {
	case s.ProximityThreshold <= 0:
		return fmt.Errorf("%w: proximity threshold must be > 0", ErrInvalidSettings)
	case s.MovementBonusFactor < 0:
		return fmt.Errorf("%w: movement bonus factor must be >= 0", ErrInvalidSettings)
	case s.MaxBonusFraction < 0 || s.MaxBonusFraction >= 1:
		return fmt.Errorf("%w: max bonus fraction must be in [0,1)", ErrInvalidSettings)
	case s.ChangeEpsilon <= 0:
		return fmt.Errorf("%w: change epsilon must be > 0", ErrInvalidSettings)
	case s.ReplicaChangeEpsilon <= 0 || s.ReplicaChangeEpsilon > s.ChangeEpsilon:
		return fmt.Errorf("%w: replica epsilon must be in (0,%g]",
			ErrInvalidSettings, s.ChangeEpsilon)
	case s.TotalLaps < 1:
		return fmt.Errorf("%w: total laps must be >= 1", ErrInvalidSettings)
	case s.TickRate < 1 || s.RefreshRate < 1:
		return fmt.Errorf("%w: tick and refresh rate must be >= 1", ErrInvalidSettings)
	case s.ResyncInterval <= 0:
		return fmt.Errorf("%w: resync interval must be > 0", ErrInvalidSettings)
	}
	return nil
}

func (s RaceSettings) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

func (s RaceSettings) RefreshInterval() time.Duration {
	return time.Second / time.Duration(s.RefreshRate)
}

// Race holds the race settings resolved from CLI flags
var Race = DefaultRaceSettings()
