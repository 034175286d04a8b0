package tracking

import (
	"context"
	"time"
)

// TickState is the outcome class of one control tick.
type TickState int

const (
	// TickIdle: the safety gate suppressed control, a stop was published.
	TickIdle TickState = iota
	// TickComputing is only observed while the optimizer is running.
	TickComputing
	// TickCommanded: the optimizer succeeded and its first control was published.
	TickCommanded
	// TickFaulted: the optimizer failed, a stop was published and reported.
	TickFaulted
)

// String is the upper-case state name used in logs and the API.
func (s TickState) String() string {
	switch s {
	case TickIdle:
		return "IDLE"
	case TickComputing:
		return "COMPUTING"
	case TickCommanded:
		return "COMMANDED"
	case TickFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// TickResult is everything a control tick decided. Command is always the
// command that was published.
type TickResult struct {
	State     TickState
	Reason    GateReason
	Command   Command
	Err       error
	Deviation float64
	Snapshot  Snapshot
	Started   time.Time
	Duration  time.Duration
}

// Tick runs one control cycle: snapshot, gate, solve, decode, publish. It
// publishes exactly one command whichever way it goes.
func (s *Server) Tick(ctx context.Context) TickResult {
	res := TickResult{
		State:    TickIdle,
		Snapshot: s.store.Snapshot(),
		Started:  s.clock.Now(),
	}
	res.Deviation = s.planner.CrossTrackDeviation(res.Snapshot.State.Position())

	ok, reason := ShouldControl(GateInput{
		State:     res.Snapshot.State,
		Target:    res.Snapshot.Target,
		Window:    res.Snapshot.Window,
		Deviation: res.Deviation,
	}, s.cfg.Thresholds)
	res.Reason = reason
	if ok {
		res.State = TickComputing
		s.solve(ctx, &res)
	}

	res.Duration = s.clock.Since(res.Started)
	s.finish(ctx, res)
	return res
}

func (s *Server) solve(ctx context.Context, res *TickResult) {
	s.optimizer.Update(res.Snapshot.State, res.Snapshot.Window)

	solveCtx := ctx
	if s.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = s.clock.WithTimeout(ctx, s.cfg.SolveTimeout)
		defer cancel()
	}

	cmd, err := s.decode(solveCtx)
	if err != nil {
		res.State = TickFaulted
		res.Err = err
		s.diag.SolveFailed(ctx, *res)
		return
	}
	res.State = TickCommanded
	res.Command = cmd
}

func (s *Server) decode(ctx context.Context) (Command, error) {
	vec, err := s.optimizer.Solve(ctx)
	if err != nil {
		return Command{}, err
	}
	// a late success is still a failure once the deadline has passed
	if err := ctx.Err(); err != nil {
		return Command{}, err
	}
	sol, err := NewSolution(s.cfg.Params, vec)
	if err != nil {
		return Command{}, err
	}
	return sol.FirstControl()
}

func (s *Server) finish(ctx context.Context, res TickResult) {
	s.pub.PublishCommand(ctx, res.Command)
	s.lastTick.store(res)

	switch res.State {
	case TickIdle:
		s.log.Debug("Control command is not sent (%s): deviation=%.3f window=%d",
			res.Reason, res.Deviation, len(res.Snapshot.Window))
	case TickCommanded:
		s.log.Trace("command v=%.3f w=%.3f solved in %v", res.Command.Linear, res.Command.Angular, res.Duration)
	}
	if s.recorder != nil {
		s.recorder.RecordTick(ctx, s.currentGoal.load().ID, res)
	}
}

// logDiagnostics is the default Diagnostics: one error line per failed solve.
type logDiagnostics struct {
	s *Server
}

// SolveFailed logs the solver error.
func (d logDiagnostics) SolveFailed(_ context.Context, res TickResult) {
	d.s.log.Error("Failed to solve the optimization problem: %v", res.Err)
}
