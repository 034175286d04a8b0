package control

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
)

var (
	// ErrNoReference means the reference window is shorter than horizon+1.
	ErrNoReference = errors.New("reference window too short for the horizon")
	// ErrNotConverged means the solver produced no finite solution.
	ErrNotConverged = errors.New("trajectory optimization did not converge")
)

// planarStateSize is x, y and heading.
const planarStateSize = 3

// TrajectoryTracker is a receding-horizon tracker for a unicycle. The
// decision variables are the Horizon (linear, angular) control pairs; the
// predicted states follow from rolling the model forward from the current
// state. It is used from the control loop only and is not safe for
// concurrent use.
type TrajectoryTracker struct {
	shape tracking.ControllerParameters
	param TrackerParam
	log   *utils.Logger
	pid   *PIDController
	dt    float64

	state tracking.VehicleState
	ref   []r2.Point
}

var _ tracking.Optimizer = (*TrajectoryTracker)(nil)

// NewTrajectoryTracker validates shape and param and returns a tracker.
func NewTrajectoryTracker(shape tracking.ControllerParameters, param TrackerParam, log *utils.Logger) (*TrajectoryTracker, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "tracker shape")
	}
	if shape.StateSize != planarStateSize {
		return nil, errors.Errorf("tracker models a planar pose, state size must be %d, got %d",
			planarStateSize, shape.StateSize)
	}
	if err := param.Validate(); err != nil {
		return nil, errors.Wrap(err, "tracker param")
	}
	return &TrajectoryTracker{
		shape: shape,
		param: param,
		log:   log.Named("tracker"),
		pid:   NewPIDController(param.HeadingPID),
		dt:    shape.ControlInterval.Seconds(),
	}, nil
}

// Update sets the initial state and the reference for the next Solve.
func (t *TrajectoryTracker) Update(state tracking.VehicleState, window []r2.Point) {
	t.state = state
	t.ref = window
}

// Solve optimizes the controls over the horizon and returns the predicted
// states followed by the control pairs. It stops early with ctx's error once
// ctx is done.
func (t *TrajectoryTracker) Solve(ctx context.Context) ([]float64, error) {
	h := t.shape.Horizon
	if len(t.ref) < h+1 {
		return nil, errors.Wrapf(ErrNoReference, "got %d points, need %d", len(t.ref), h+1)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u0 := t.warmStart()
	warm := t.cost(u0)
	d := t.pid.GetDiagnostics()
	t.log.Trace("warm start: heading err=%.3f P=%.3f I=%.3f cost=%.5f", d.Error, d.P, d.I, warm)
	if !finite(warm) {
		return nil, errors.Wrap(ErrNotConverged, "initial cost is not finite")
	}

	prob := optimize.Problem{
		Func: t.cost,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, t.cost, u, &fd.Settings{Formula: fd.Central})
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: t.param.MaxIterations,
		FuncEvaluations: 50 * t.param.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 10,
		},
	}
	res, err := optimize.Minimize(prob, u0, settings, &optimize.LBFGS{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if res == nil || !finite(res.F) {
		if err == nil {
			err = errors.New("no finite optimum")
		}
		return nil, errors.Wrap(ErrNotConverged, err.Error())
	}
	if err != nil {
		// a stalled line search still leaves the best point found so far
		t.log.Debug("solver stopped early (%v): status=%v cost=%.5f", err, res.Status, res.F)
	}

	u := u0
	if res.F < warm {
		u = res.X
	}
	t.clampControls(u)
	t.log.Trace("solved: iterations=%d evaluations=%d cost=%.5f warm=%.5f |u|=%.3f",
		res.Stats.MajorIterations, res.Stats.FuncEvaluations, res.F, warm, controlNorm(u))
	return t.layout(u), nil
}

// warmStart steers towards each successive reference point with the heading
// PID and drives at the speed that would reach it in one interval.
func (t *TrajectoryTracker) warmStart() []float64 {
	h := t.shape.Horizon
	u := make([]float64, 2*h)
	t.pid.Reset()

	x, y, th := t.state.X, t.state.Y, t.state.Heading
	for k := 0; k < h; k++ {
		target := t.ref[k+1]
		dx, dy := target.X-x, target.Y-y
		headingErr := tracking.WrapAngle(math.Atan2(dy, dx) - th)

		w := ClampFloat(t.pid.Update(headingErr, t.dt), -t.param.MaxAngularRateRPS, t.param.MaxAngularRateRPS)
		v := ClampFloat(math.Hypot(dx, dy)*math.Cos(headingErr)/t.dt, 0, t.param.MaxSpeedMPS)
		u[2*k], u[2*k+1] = v, w

		x, y, th = step(x, y, th, v, w, t.dt)
	}
	return u
}

// cost is the tracking objective over the control sequence u.
func (t *TrajectoryTracker) cost(u []float64) float64 {
	p := t.param
	x, y, th := t.state.X, t.state.Y, t.state.Heading
	var c float64
	for k := 0; k < t.shape.Horizon; k++ {
		v, w := u[2*k], u[2*k+1]
		x, y, th = step(x, y, th, v, w, t.dt)

		ref := t.ref[k+1]
		c += p.WeightPosition * ((x-ref.X)*(x-ref.X) + (y-ref.Y)*(y-ref.Y))
		c += p.WeightEffort * (v*v + w*w)
		if k > 0 {
			dv, dw := v-u[2*k-2], w-u[2*k-1]
			c += p.WeightSmooth * (dv*dv + dw*dw)
		}
		c += p.WeightBound * (excess(v, 0, p.MaxSpeedMPS) + excess(w, -p.MaxAngularRateRPS, p.MaxAngularRateRPS))
	}
	return c
}

func (t *TrajectoryTracker) clampControls(u []float64) {
	for k := 0; k < t.shape.Horizon; k++ {
		u[2*k] = ClampFloat(u[2*k], 0, t.param.MaxSpeedMPS)
		u[2*k+1] = ClampFloat(u[2*k+1], -t.param.MaxAngularRateRPS, t.param.MaxAngularRateRPS)
	}
}

// layout re-rolls the states from u and packs states then controls.
func (t *TrajectoryTracker) layout(u []float64) []float64 {
	h := t.shape.Horizon
	offset := planarStateSize * (h + 1)
	out := make([]float64, offset+2*h)

	x, y, th := t.state.X, t.state.Y, t.state.Heading
	copy(out, []float64{x, y, tracking.WrapAngle(th)})
	for k := 0; k < h; k++ {
		x, y, th = step(x, y, th, u[2*k], u[2*k+1], t.dt)
		copy(out[planarStateSize*(k+1):], []float64{x, y, tracking.WrapAngle(th)})
	}
	copy(out[offset:], u)
	return out
}

// step advances the unicycle model by dt.
func step(x, y, th, v, w, dt float64) (float64, float64, float64) {
	return x + v*math.Cos(th)*dt, y + v*math.Sin(th)*dt, th + w*dt
}

func excess(v, lo, hi float64) float64 {
	switch {
	case v > hi:
		return (v - hi) * (v - hi)
	case v < lo:
		return (lo - v) * (lo - v)
	}
	return 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// controlNorm is the euclidean norm of the control sequence, used in logs.
func controlNorm(u []float64) float64 {
	return floats.Norm(u, 2)
}
