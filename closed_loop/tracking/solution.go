package tracking

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrSolutionLength means the optimizer returned a vector of the wrong size.
	ErrSolutionLength = errors.New("solution vector has unexpected length")
	// ErrNonFiniteCommand means the decoded control pair contains NaN or Inf.
	ErrNonFiniteCommand = errors.New("solution control pair is not finite")
)

// Solution is an optimizer result laid out as StateSize*(Horizon+1) predicted
// states followed by Horizon (linear, angular) control pairs.
type Solution struct {
	params ControllerParameters
	vec    []float64
}

// SolutionLength is the number of reals a solution for p holds.
func SolutionLength(p ControllerParameters) int {
	return p.StateSize*(p.Horizon+1) + 2*p.Horizon
}

// ControlOffset is the index of the first control pair.
func ControlOffset(p ControllerParameters) int {
	return p.StateSize * (p.Horizon + 1)
}

// NewSolution wraps vec after checking its length against p.
func NewSolution(p ControllerParameters, vec []float64) (Solution, error) {
	if want := SolutionLength(p); len(vec) != want {
		return Solution{}, errors.Wrapf(ErrSolutionLength, "got %d, want %d", len(vec), want)
	}
	return Solution{params: p, vec: vec}, nil
}

// Control returns the k-th predicted control pair, 0 <= k < Horizon.
func (s Solution) Control(k int) Command {
	i := ControlOffset(s.params) + 2*k
	return Command{Linear: s.vec[i], Angular: s.vec[i+1]}
}

// FirstControl is the command to apply now; later pairs are discarded.
func (s Solution) FirstControl() (Command, error) {
	cmd := s.Control(0)
	if !finite(cmd.Linear) || !finite(cmd.Angular) {
		return Command{}, ErrNonFiniteCommand
	}
	return cmd, nil
}

// PredictedState returns the k-th predicted state, 0 <= k <= Horizon. Only the
// first three components are interpreted, as x, y and heading.
func (s Solution) PredictedState(k int) VehicleState {
	i := s.params.StateSize * k
	var st VehicleState
	row := s.vec[i : i+s.params.StateSize]
	if len(row) > 0 {
		st.X = row[0]
	}
	if len(row) > 1 {
		st.Y = row[1]
	}
	if len(row) > 2 {
		st.Heading = row[2]
	}
	return st
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
