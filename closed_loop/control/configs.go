package control

import (
	"github.com/pkg/errors"
)

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Kp            float64 `json:"kp"`
	Ki            float64 `json:"ki"`
	Kd            float64 `json:"kd"`
	MaxOutput     float64 `json:"max_output"`
	MinOutput     float64 `json:"min_output"`
	IntegralLimit float64 `json:"integral_limit"`
}

// TrackerParam holds the weights and limits of the trajectory tracker. The
// problem shape (horizon, interval, state size) comes from the controller
// parameters.
type TrackerParam struct {
	// Cost weights
	WeightPosition float64 `json:"weight_position"` // squared distance to the reference point
	WeightEffort   float64 `json:"weight_effort"`   // squared control magnitude
	WeightSmooth   float64 `json:"weight_smooth"`   // squared change between consecutive controls
	WeightBound    float64 `json:"weight_bound"`    // squared violation of the limits below

	// Limits
	MaxSpeedMPS       float64 `json:"max_speed_mps"`
	MaxAngularRateRPS float64 `json:"max_angular_rate_rps"`

	// Solver
	MaxIterations int `json:"max_iterations"`

	// HeadingPID steers towards the next reference point to seed the solver.
	HeadingPID PIDConfig `json:"heading_pid"`
}

// DefaultTrackerParam returns the tuning used on the test vehicle.
func DefaultTrackerParam() TrackerParam {
	return TrackerParam{
		WeightPosition:    10.0,
		WeightEffort:      0.01,
		WeightSmooth:      0.1,
		WeightBound:       100.0,
		MaxSpeedMPS:       1.0,
		MaxAngularRateRPS: 1.0,
		MaxIterations:     100,
		HeadingPID: PIDConfig{
			Kp:            1.5,
			Ki:            0.0,
			Kd:            0.1,
			MaxOutput:     1.0,
			MinOutput:     -1.0,
			IntegralLimit: 1.0,
		},
	}
}

// Validate checks the tracker parameters
func (p TrackerParam) Validate() error {
	if p.WeightPosition <= 0 {
		return errors.Errorf("weight_position must be positive, got %f", p.WeightPosition)
	}
	if p.WeightEffort < 0 || p.WeightSmooth < 0 || p.WeightBound < 0 {
		return errors.New("cost weights must not be negative")
	}
	if p.MaxSpeedMPS <= 0 {
		return errors.Errorf("invalid max_speed_mps: %f", p.MaxSpeedMPS)
	}
	if p.MaxAngularRateRPS <= 0 {
		return errors.Errorf("invalid max_angular_rate_rps: %f", p.MaxAngularRateRPS)
	}
	if p.MaxIterations <= 0 {
		return errors.Errorf("invalid max_iterations: %d", p.MaxIterations)
	}
	if p.HeadingPID.MaxOutput < p.HeadingPID.MinOutput {
		return errors.Errorf("heading_pid: max_output %f below min_output %f",
			p.HeadingPID.MaxOutput, p.HeadingPID.MinOutput)
	}
	return nil
}
