// Package planner is a geometric reference planner: a cubic Hermite curve
// from the vehicle pose to the goal, sampled at a fixed arc-length spacing.
package planner

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
)

// Config holds planner parameters
type Config struct {
	SpacingM float64 `json:"spacing_m"`
	// MaxGoalDistanceM rejects goals further away than this; zero disables the check.
	MaxGoalDistanceM float64 `json:"max_goal_distance_m"`
}

// DefaultConfig matches one reference point per control interval at 1 m/s.
func DefaultConfig() Config {
	return Config{SpacingM: 0.1, MaxGoalDistanceM: 50}
}

// Validate requires a positive spacing and a non-negative goal distance limit.
func (c Config) Validate() error {
	if c.SpacingM <= 0 {
		return errors.Errorf("invalid spacing_m: %f", c.SpacingM)
	}
	if c.MaxGoalDistanceM < 0 {
		return errors.Errorf("invalid max_goal_distance_m: %f", c.MaxGoalDistanceM)
	}
	return nil
}

// densify is the number of curve evaluations per output sample.
const densify = 8

// HermitePlanner keeps the most recent global path and the index the vehicle
// has progressed to along it. It is safe for concurrent use.
type HermitePlanner struct {
	cfg Config
	log *utils.Logger

	mu       sync.RWMutex
	path     []r2.Point
	progress int
}

var _ tracking.Planner = (*HermitePlanner)(nil)

// NewHermitePlanner validates cfg and returns a planner with no path.
func NewHermitePlanner(cfg Config, log *utils.Logger) (*HermitePlanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "planner config")
	}
	return &HermitePlanner{cfg: cfg, log: log.Named("planner")}, nil
}

// GlobalPath plans a curve leaving start along heading and arriving at goal
// along the start-goal chord. It returns nil when goal is within one spacing
// of start or beyond the maximum goal distance. The result replaces the
// planner's current path either way.
func (p *HermitePlanner) GlobalPath(start, goal r2.Point, heading float64) []r2.Point {
	path := p.plan(start, goal, heading)

	p.mu.Lock()
	p.path = path
	p.progress = 0
	p.mu.Unlock()

	out := make([]r2.Point, len(path))
	copy(out, path)
	return out
}

func (p *HermitePlanner) plan(start, goal r2.Point, heading float64) []r2.Point {
	chord := goal.Sub(start)
	dist := chord.Norm()
	if dist < p.cfg.SpacingM {
		p.log.Debug("goal (%.3f, %.3f) is already reached", goal.X, goal.Y)
		return nil
	}
	if p.cfg.MaxGoalDistanceM > 0 && dist > p.cfg.MaxGoalDistanceM {
		p.log.Warn("goal (%.3f, %.3f) is %.1f m away, limit is %.1f m",
			goal.X, goal.Y, dist, p.cfg.MaxGoalDistanceM)
		return nil
	}

	t0 := r2.Point{X: math.Cos(heading), Y: math.Sin(heading)}.Mul(dist)
	t1 := chord
	n := densify * int(math.Ceil(dist/p.cfg.SpacingM))
	dense := make([]r2.Point, n+1)
	for i := range dense {
		dense[i] = hermite(start, t0, goal, t1, float64(i)/float64(n))
	}
	path := resample(dense, p.cfg.SpacingM)
	p.log.Debug("planned %d points to (%.3f, %.3f)", len(path), goal.X, goal.Y)
	return path
}

// LocalWindow returns count consecutive samples starting at the sample
// nearest to position, searching from the last progress index onwards. Near
// the end of the path the missing tail repeats the goal, so a full window
// exists until arrival. It returns nil when there is no path.
func (p *HermitePlanner) LocalWindow(position r2.Point, count int) []r2.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.path) == 0 || count <= 0 {
		return nil
	}

	nearest := p.progress
	best := math.Inf(1)
	for i := p.progress; i < len(p.path); i++ {
		if d := position.Sub(p.path[i]).Norm(); d < best {
			best, nearest = d, i
		}
	}
	p.progress = nearest

	out := make([]r2.Point, count)
	n := copy(out, p.path[nearest:])
	for i := n; i < count; i++ {
		out[i] = p.path[len(p.path)-1]
	}
	return out
}

// CrossTrackDeviation is the distance from position to the closest segment
// of the path, zero without a path.
func (p *HermitePlanner) CrossTrackDeviation(position r2.Point) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch len(p.path) {
	case 0:
		return 0
	case 1:
		return position.Sub(p.path[0]).Norm()
	}
	best := math.Inf(1)
	for i := 1; i < len(p.path); i++ {
		best = math.Min(best, segmentDistance(position, p.path[i-1], p.path[i]))
	}
	return best
}

// Progress is the index of the path sample last matched by LocalWindow.
func (p *HermitePlanner) Progress() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

// hermite evaluates the cubic Hermite curve between p0 and p1 with end
// tangents t0 and t1 at s in [0, 1].
func hermite(p0, t0, p1, t1 r2.Point, s float64) r2.Point {
	s2, s3 := s*s, s*s*s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2
	return p0.Mul(h00).Add(t0.Mul(h10)).Add(p1.Mul(h01)).Add(t1.Mul(h11))
}

// resample walks the polyline and emits a point every spacing of arc length.
// The first and last points of the polyline are always kept.
func resample(dense []r2.Point, spacing float64) []r2.Point {
	out := []r2.Point{dense[0]}
	carry := 0.0
	for i := 1; i < len(dense); i++ {
		a, b := dense[i-1], dense[i]
		seg := b.Sub(a).Norm()
		pos := spacing - carry
		for ; pos <= seg; pos += spacing {
			out = append(out, a.Add(b.Sub(a).Mul(pos/seg)))
		}
		carry = seg - (pos - spacing)
	}
	if last := dense[len(dense)-1]; out[len(out)-1].Sub(last).Norm() > spacing/2 {
		out = append(out, last)
	} else {
		out[len(out)-1] = last
	}
	return out
}

func segmentDistance(p, a, b r2.Point) float64 {
	ab := b.Sub(a)
	l2 := ab.Dot(ab)
	if l2 == 0 {
		return p.Sub(a).Norm()
	}
	t := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/l2))
	return p.Sub(a.Add(ab.Mul(t))).Norm()
}
