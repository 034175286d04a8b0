package tracking

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// PoseObservation is one odometry reading: a position and an orientation
// quaternion (Real=w, Imag=x, Jmag=y, Kmag=z).
type PoseObservation struct {
	Position    r3.Vector
	Orientation quat.Number
}

// HeadingFromQuaternion returns the yaw of q. q is used as given; callers
// are expected to supply a unit quaternion.
func HeadingFromQuaternion(q quat.Number) float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// StateFromObservation derives the vehicle state from a single observation.
func StateFromObservation(obs PoseObservation) VehicleState {
	return VehicleState{
		X:       obs.Position.X,
		Y:       obs.Position.Y,
		Heading: WrapAngle(HeadingFromQuaternion(obs.Orientation)),
	}
}

// OnPoseObservation replaces the shared vehicle state with the one derived from obs.
func (s *Server) OnPoseObservation(ctx context.Context, obs PoseObservation) {
	if n := quat.Abs(obs.Orientation); math.Abs(n-1) > 1e-3 {
		s.log.Trace("orientation is not a unit quaternion (|q|=%.4f); using as-is", n)
	}
	state := StateFromObservation(obs)
	s.store.SetState(state)
	s.log.Trace("pose x=%.3f y=%.3f heading=%.3f", state.X, state.Y, state.Heading)
}
