// Package tracking is the control-loop orchestrator of the trajectory tracker:
// it holds the shared vehicle state, runs the reference-window and control
// activities at their own rates, gates control behind safety checks and
// turns optimizer solutions into velocity commands.
package tracking

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// VehicleState is the planar pose of the vehicle. Heading is in radians, wrapped to (-π, π].
type VehicleState struct {
	X       float64
	Y       float64
	Heading float64
}

// Position returns the planar position of the state.
func (s VehicleState) Position() r2.Point {
	return r2.Point{X: s.X, Y: s.Y}
}

// Command is a planar twist. The zero value is the stop command.
type Command struct {
	Linear  float64 // m/s along the body x axis
	Angular float64 // rad/s about the body z axis
}

// IsZero reports whether the command requests no motion.
func (c Command) IsZero() bool {
	return c.Linear == 0 && c.Angular == 0
}

// ControllerParameters describe the optimizer's problem shape and are fixed for the process lifetime.
type ControllerParameters struct {
	Horizon         int
	ControlInterval time.Duration
	StateSize       int
}

// Validate checks the startup preconditions of the parameters.
func (p ControllerParameters) Validate() error {
	if p.Horizon <= 0 {
		return errors.Errorf("horizon must be positive, got %d", p.Horizon)
	}
	if p.ControlInterval <= 0 {
		return errors.Errorf("control interval must be positive, got %v", p.ControlInterval)
	}
	if p.StateSize <= 0 {
		return errors.Errorf("state size must be positive, got %d", p.StateSize)
	}
	return nil
}

// WindowSize is the number of reference points the optimizer expects.
func (p ControllerParameters) WindowSize() int {
	return p.Horizon + 1
}

// Thresholds are the safety gate tunables, in map length units.
type Thresholds struct {
	NearTarget float64
	FarOffPath float64
}

// DefaultThresholds match the values the vehicle was tuned with.
var DefaultThresholds = Thresholds{NearTarget: 0.1, FarOffPath: 0.5}

// Goal is an accepted navigation goal.
type Goal struct {
	ID         uuid.UUID
	Point      r2.Point
	Received   time.Time
	PathLength int
}

// WrapAngle maps an angle in radians onto (-π, π].
func WrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}
