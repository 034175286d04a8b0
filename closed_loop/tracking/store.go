package tracking

import (
	"sync"

	"github.com/golang/geo/r2"
)

// holder guards one immutable value. Writers replace the value wholesale.
type holder[T any] struct {
	mu sync.RWMutex
	v  T
}

func (h *holder[T]) load() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.v
}

func (h *holder[T]) store(v T) {
	h.mu.Lock()
	h.v = v
	h.mu.Unlock()
}

// Store holds the values shared between the pose, goal, window and control activities.
// Each value has exactly one writer; slices handed out are never mutated afterwards.
type Store struct {
	state  holder[VehicleState]
	target holder[r2.Point]
	window holder[[]r2.Point]
	global holder[[]r2.Point]
}

// Snapshot is what a control tick reads at its start.
type Snapshot struct {
	State  VehicleState
	Target r2.Point
	Window []r2.Point
}

// NewStore returns a store holding zero values and no paths.
func NewStore() *Store {
	return &Store{}
}

// State is the latest vehicle state.
func (s *Store) State() VehicleState { return s.state.load() }

// SetState replaces the vehicle state.
func (s *Store) SetState(v VehicleState) { s.state.store(v) }

// Target is the goal the vehicle is driving to.
func (s *Store) Target() r2.Point { return s.target.load() }

// SetTarget replaces the goal.
func (s *Store) SetTarget(p r2.Point) { s.target.store(p) }

// Window is the reference window the next tick tracks.
func (s *Store) Window() []r2.Point { return s.window.load() }

// SetWindow stores a copy of w.
func (s *Store) SetWindow(w []r2.Point) { s.window.store(clonePoints(w)) }

// GlobalPath is the path to the current goal.
func (s *Store) GlobalPath() []r2.Point { return s.global.load() }

// SetGlobalPath stores a copy of p.
func (s *Store) SetGlobalPath(p []r2.Point) { s.global.store(clonePoints(p)) }

// Snapshot reads every value. Each is consistent on its own, not with the others.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		State:  s.State(),
		Target: s.Target(),
		Window: s.Window(),
	}
}

// clonePoints copies so that a producer reusing its buffer cannot reach readers.
func clonePoints(in []r2.Point) []r2.Point {
	if len(in) == 0 {
		return nil
	}
	out := make([]r2.Point, len(in))
	copy(out, in)
	return out
}
