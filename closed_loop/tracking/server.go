package tracking

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"trajtrack-core/utils"
)

// Config holds the orchestrator's process-lifetime parameters.
type Config struct {
	Params                ControllerParameters
	Thresholds            Thresholds
	ReferenceWindowPeriod time.Duration
	// SolveTimeout bounds each optimizer call; zero leaves it unbounded.
	SolveTimeout time.Duration
	Wander       WanderConfig
}

// Validate checks the controller shape, thresholds, periods and wander settings.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.ReferenceWindowPeriod <= 0 {
		return errors.Errorf("reference window period must be positive, got %v", c.ReferenceWindowPeriod)
	}
	if c.Thresholds.NearTarget < 0 || c.Thresholds.FarOffPath < 0 {
		return errors.Errorf("thresholds must not be negative: %+v", c.Thresholds)
	}
	if c.SolveTimeout < 0 {
		return errors.Errorf("solve timeout must not be negative, got %v", c.SolveTimeout)
	}
	return c.Wander.Validate()
}

// Server is the control-loop orchestrator.
type Server struct {
	cfg       Config
	log       *utils.Logger
	clock     clock.Clock
	planner   Planner
	optimizer Optimizer
	pub       Publisher
	diag      Diagnostics
	recorder  Recorder
	rng       *rand.Rand

	store       *Store
	goalMu      sync.Mutex // serializes goals: target, path and current goal change together
	lastTick    holder[TickResult]
	currentGoal holder[Goal]

	group *errgroup.Group
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the wall clock driving the periodic activities.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithDiagnostics replaces the default failed-solve logger.
func WithDiagnostics(d Diagnostics) Option {
	return func(s *Server) { s.diag = d }
}

// WithRecorder records every goal and tick outcome to r.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithRand seeds the wander goal generator.
func WithRand(r *rand.Rand) Option {
	return func(s *Server) { s.rng = r }
}

// NewServer validates cfg and wires the collaborators. Nothing runs until Start.
func NewServer(cfg Config, planner Planner, optimizer Optimizer, pub Publisher, logger *utils.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "tracking config")
	}
	if planner == nil || optimizer == nil || pub == nil {
		return nil, errors.New("tracking server needs a planner, an optimizer and a publisher")
	}
	s := &Server{
		cfg:       cfg,
		log:       logger.Named("tracking"),
		clock:     clock.New(),
		planner:   planner,
		optimizer: optimizer,
		pub:       pub,
		store:     NewStore(),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	s.diag = logDiagnostics{s}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start creates the tickers and launches the window, control and (if
// enabled) wander activities. Each activity runs on its own goroutine, so a
// tick that overruns delays its successor instead of overlapping it.
func (s *Server) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	s.group = g

	s.every(ctx, g, s.cfg.ReferenceWindowPeriod, func(ctx context.Context) { s.RefreshWindow(ctx) })
	s.every(ctx, g, s.cfg.Params.ControlInterval, func(ctx context.Context) { s.Tick(ctx) })
	if s.cfg.Wander.Enabled() {
		s.every(ctx, g, s.cfg.Wander.Interval, s.wander)
	}
	s.log.Info("tracking started: control=%v window=%v horizon=%d",
		s.cfg.Params.ControlInterval, s.cfg.ReferenceWindowPeriod, s.cfg.Params.Horizon)
}

// Wait blocks until every activity has stopped and returns the cancellation cause.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Run is Start followed by Wait.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)
	return s.Wait()
}

func (s *Server) every(ctx context.Context, g *errgroup.Group, period time.Duration, fn func(context.Context)) {
	ticker := s.clock.Ticker(period)
	g.Go(func() error {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				fn(ctx)
			}
		}
	})
}

// OnNewGoal makes point the target, plans a global path to it and publishes
// that path. An empty path replaces the previous one; it only affects what is
// drawn, control follows the reference window. Concurrent goals are applied
// one at a time.
func (s *Server) OnNewGoal(ctx context.Context, point r2.Point) Goal {
	s.goalMu.Lock()
	defer s.goalMu.Unlock()

	p := Goal{ID: uuid.New(), Point: point, Received: s.clock.Now()}
	state := s.store.State()
	s.store.SetTarget(p.Point)

	path := s.planner.GlobalPath(state.Position(), p.Point, state.Heading)
	s.store.SetGlobalPath(path)
	p.PathLength = len(path)
	s.currentGoal.store(p)

	if len(path) < 2 {
		s.log.Warn("no route to goal (%.3f, %.3f) from (%.3f, %.3f)", p.Point.X, p.Point.Y, state.X, state.Y)
	} else {
		s.log.Info("new goal (%.3f, %.3f): global path has %d points", p.Point.X, p.Point.Y, len(path))
	}
	s.pub.PublishGlobalPath(ctx, s.store.GlobalPath())
	if s.recorder != nil {
		s.recorder.RecordGoal(ctx, p)
	}
	return p
}

// RefreshWindow asks the planner for the reference window around the current
// position and stores it as returned, empty included.
func (s *Server) RefreshWindow(ctx context.Context) []r2.Point {
	pos := s.store.State().Position()
	s.store.SetWindow(s.planner.LocalWindow(pos, s.cfg.Params.WindowSize()))
	window := s.store.Window()
	if len(window) == 0 {
		s.log.Info("local trajectory is empty, wait ...")
		return window
	}
	s.pub.PublishLocalWindow(ctx, window)
	s.log.Trace("local path published, which length = %d", len(window))
	return window
}

// Config is the configuration the server was built with.
func (s *Server) Config() Config { return s.cfg }

// State is the latest vehicle state.
func (s *Server) State() VehicleState { return s.store.State() }

// Snapshot reads the shared store.
func (s *Server) Snapshot() Snapshot { return s.store.Snapshot() }

// GlobalPath is the path to the current goal.
func (s *Server) GlobalPath() []r2.Point { return s.store.GlobalPath() }

// LastTick is the outcome of the most recent tick.
func (s *Server) LastTick() TickResult { return s.lastTick.load() }

// CurrentGoal is the goal most recently accepted by OnNewGoal.
func (s *Server) CurrentGoal() Goal { return s.currentGoal.load() }
