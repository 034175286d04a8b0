package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/require"

	"trajtrack-core/utils/logtest"
)

type fakePlanner struct {
	mu        sync.Mutex
	global    []r2.Point
	window    []r2.Point
	deviation float64

	globalCalls int
	windowCalls int
}

func (p *fakePlanner) GlobalPath(start, goal r2.Point, heading float64) []r2.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalCalls++
	return p.global
}

func (p *fakePlanner) LocalWindow(position r2.Point, count int) []r2.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windowCalls++
	if len(p.window) > count {
		return p.window[:count]
	}
	return p.window
}

func (p *fakePlanner) CrossTrackDeviation(position r2.Point) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviation
}

func (p *fakePlanner) set(fn func(p *fakePlanner)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type fakeOptimizer struct {
	solution []float64
	err      error
	block    bool

	updates    int
	solves     int
	lastState  VehicleState
	lastWindow []r2.Point
}

func (o *fakeOptimizer) Update(state VehicleState, window []r2.Point) {
	o.updates++
	o.lastState = state
	o.lastWindow = window
}

func (o *fakeOptimizer) Solve(ctx context.Context) ([]float64, error) {
	o.solves++
	if o.block {
		<-ctx.Done()
		return o.solution, nil
	}
	return o.solution, o.err
}

type fakePublisher struct {
	mu       sync.Mutex
	commands []Command
	globals  [][]r2.Point
	windows  [][]r2.Point
}

func (p *fakePublisher) PublishGlobalPath(_ context.Context, path []r2.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals = append(p.globals, path)
}

func (p *fakePublisher) PublishLocalWindow(_ context.Context, window []r2.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, window)
}

func (p *fakePublisher) PublishCommand(_ context.Context, cmd Command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
}

func (p *fakePublisher) counts() (commands, globals, windows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commands), len(p.globals), len(p.windows)
}

func (p *fakePublisher) lastCommand() Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commands[len(p.commands)-1]
}

type countingDiagnostics struct {
	mu      sync.Mutex
	reports []TickResult
}

func (d *countingDiagnostics) SolveFailed(_ context.Context, res TickResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, res)
}

func (d *countingDiagnostics) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reports)
}

func testParams() ControllerParameters {
	return ControllerParameters{Horizon: 10, ControlInterval: 100 * time.Millisecond, StateSize: 3}
}

func testConfig() Config {
	return Config{
		Params:                testParams(),
		Thresholds:            DefaultThresholds,
		ReferenceWindowPeriod: 100 * time.Millisecond,
	}
}

// straightWindow returns n points along +x starting at x0.
func straightWindow(x0 float64, n int) []r2.Point {
	out := make([]r2.Point, n)
	for i := range out {
		out[i] = r2.Point{X: x0 + 0.1*float64(i)}
	}
	return out
}

type harness struct {
	srv  *Server
	plan *fakePlanner
	opt  *fakeOptimizer
	pub  *fakePublisher
	diag *countingDiagnostics
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		plan: &fakePlanner{},
		opt:  &fakeOptimizer{},
		pub:  &fakePublisher{},
		diag: &countingDiagnostics{},
	}
	opts = append([]Option{WithDiagnostics(h.diag)}, opts...)
	srv, err := NewServer(cfg, h.plan, h.opt, h.pub, logtest.New(t), opts...)
	require.NoError(t, err)
	h.srv = srv
	return h
}

func nan() float64 {
	var zero float64
	return zero / zero
}
