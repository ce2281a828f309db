package propagation

import (
	"time"

	"github.com/star/gnsseph/internal/gnss"
)

// Keyframe holds the state of every covered satellite at a single point in time.
type Keyframe struct {
	Timestamp  time.Time
	Satellites []SatelliteState
}

// SatelliteState is one satellite's ECEF state at a keyframe time, with the
// epoch of the record it was computed from.
type SatelliteState struct {
	Sat          gnss.SatID
	Toe          time.Time
	PositionECEF [3]float64 // meters (X, Y, Z in ECEF)
	VelocityECEF [3]float64 // m/s (X, Y, Z in ECEF)
	ClockBias    float64    // seconds, relativistic correction included
	Healthy      bool
}

// PropConfig holds propagation configuration.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Keyframe interval (default: 30s)
	Horizon time.Duration // Keyframe horizon (default: 600s)
}
