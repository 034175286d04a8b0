package tracking

import (
	"context"
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// WanderConfig drives the optional explorer which, every Interval, picks a
// goal in an annulus ahead of the vehicle. A zero Interval disables it.
type WanderConfig struct {
	Interval    time.Duration
	InnerRadius float64
	OuterRadius float64
	HalfAngle   float64 // radians either side of the current heading
}

// DefaultWander is the annulus used when wandering is switched on without a shape.
var DefaultWander = WanderConfig{InnerRadius: 5, OuterRadius: 10, HalfAngle: math.Pi / 3}

// Enabled reports whether wander goals are generated.
func (w WanderConfig) Enabled() bool {
	return w.Interval > 0
}

// Validate checks the annulus and sector when wandering is enabled.
func (w WanderConfig) Validate() error {
	if !w.Enabled() {
		return nil
	}
	if w.InnerRadius < 0 || w.OuterRadius < w.InnerRadius {
		return errors.Errorf("wander radii must satisfy 0 <= inner <= outer, got %.2f, %.2f", w.InnerRadius, w.OuterRadius)
	}
	if w.HalfAngle < 0 || w.HalfAngle > math.Pi {
		return errors.Errorf("wander half angle must be within [0, pi], got %.3f", w.HalfAngle)
	}
	return nil
}

// WanderGoal returns a goal at a random distance in [inner, outer) and a
// random bearing within HalfAngle of the heading of state.
func (s *Server) WanderGoal(state VehicleState) r2.Point {
	w := s.cfg.Wander
	r := w.InnerRadius + s.rng.Float64()*(w.OuterRadius-w.InnerRadius)
	theta := state.Heading - w.HalfAngle + s.rng.Float64()*2*w.HalfAngle
	return state.Position().Add(r2.Point{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
}

func (s *Server) wander(ctx context.Context) {
	goal := s.WanderGoal(s.store.State())
	s.log.Info("wandering to (%.3f, %.3f)", goal.X, goal.Y)
	s.OnNewGoal(ctx, goal)
}
