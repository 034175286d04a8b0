package tracking

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
)

// Planner produces the paths the vehicle follows. Implementations must be
// safe for concurrent use: goals, window refreshes and control ticks call it
// from different goroutines.
type Planner interface {
	// GlobalPath plans from start, leaving along heading, to goal. An empty
	// result means no route.
	GlobalPath(start, goal r2.Point, heading float64) []r2.Point
	// LocalWindow returns up to count reference points ahead of position.
	LocalWindow(position r2.Point, count int) []r2.Point
	// CrossTrackDeviation is the distance from position to the planned path.
	CrossTrackDeviation(position r2.Point) float64
}

// Optimizer solves the tracking problem. It is only used from the control
// loop and need not be safe for concurrent use.
type Optimizer interface {
	Update(state VehicleState, window []r2.Point)
	// Solve returns the solution vector, or an error when no solution was found.
	Solve(ctx context.Context) ([]float64, error)
}

// Publisher carries outputs to the transport layer. Implementations must be
// safe for concurrent use.
type Publisher interface {
	PublishGlobalPath(ctx context.Context, path []r2.Point)
	PublishLocalWindow(ctx context.Context, window []r2.Point)
	PublishCommand(ctx context.Context, cmd Command)
}

// Diagnostics receives one report per faulted control tick.
type Diagnostics interface {
	SolveFailed(ctx context.Context, res TickResult)
}

// Recorder persists goals and tick outcomes. Errors are the recorder's to handle.
type Recorder interface {
	RecordGoal(ctx context.Context, goal Goal)
	RecordTick(ctx context.Context, goalID uuid.UUID, res TickResult)
}
