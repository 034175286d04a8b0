package viz

import (
	"context"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
)

// Controller is the orchestrator surface the API drives.
type Controller interface {
	Snapshot() tracking.Snapshot
	LastTick() tracking.TickResult
	CurrentGoal() tracking.Goal
	OnNewGoal(ctx context.Context, point r2.Point) tracking.Goal
	OnPoseObservation(ctx context.Context, obs tracking.PoseObservation)
}

// GoalRequest is the body of POST /api/goal.
type GoalRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// PoseRequest is the body of POST /api/pose.
type PoseRequest struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// GoalData describes an accepted goal.
type GoalData struct {
	ID         string    `json:"id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	PathLength int       `json:"path_length"`
	Received   time.Time `json:"received"`
}

// StateData is a planar vehicle pose.
type StateData struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// TickData summarises the latest control tick.
type TickData struct {
	State      string  `json:"state"`
	Reason     string  `json:"reason,omitempty"`
	Command    Twist   `json:"command"`
	Error      string  `json:"error,omitempty"`
	Deviation  float64 `json:"deviation"`
	DurationMS float64 `json:"duration_ms"`
}

// StatusResponse is the body of GET /api/state.
type StatusResponse struct {
	State        StateData `json:"state"`
	Target       Vector3   `json:"target"`
	WindowLength int       `json:"window_length"`
	LastTick     TickData  `json:"last_tick"`
	Goal         *GoalData `json:"goal,omitempty"`
	Clients      int       `json:"clients"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// API serves the HTTP and websocket endpoints.
type API struct {
	ctrl Controller
	hub  *Hub
	log  *utils.Logger
	// ctx bounds the work triggered by requests; it outlives each request.
	ctx context.Context
	// acceptPose mounts POST /api/pose. Vehicle state must have one producer,
	// so it stays off while odometry arrives from the bus.
	acceptPose bool
}

// APIOption configures an API.
type APIOption func(*API)

// WithPoseInput mounts POST /api/pose as the vehicle state source.
func WithPoseInput() APIOption {
	return func(a *API) { a.acceptPose = true }
}

// NewAPI serves ctrl and hub. Without WithPoseInput the API never writes vehicle state.
func NewAPI(ctx context.Context, ctrl Controller, hub *Hub, log *utils.Logger, opts ...APIOption) *API {
	a := &API{ctrl: ctrl, hub: hub, log: log.Named("api"), ctx: ctx}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// App builds the fiber application with every route mounted.
func (a *API) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	api := app.Group("/api")
	api.Get("/health", a.handleHealth)
	api.Get("/state", a.handleState)
	api.Post("/goal", a.handleGoal)
	if a.acceptPose {
		api.Post("/pose", a.handlePose)
	}

	app.Use("/websocket", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/websocket/viz", websocket.New(a.hub.ServeWS))
	return app
}

func (a *API) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "OK",
		"clients": a.hub.ClientCount(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (a *API) handleState(c *fiber.Ctx) error {
	snap := a.ctrl.Snapshot()
	tick := a.ctrl.LastTick()

	resp := StatusResponse{
		State:        StateData{X: snap.State.X, Y: snap.State.Y, Heading: snap.State.Heading},
		Target:       Vector3{X: snap.Target.X, Y: snap.Target.Y},
		WindowLength: len(snap.Window),
		LastTick: TickData{
			State:      tick.State.String(),
			Command:    TwistFromCommand(tick.Command),
			Deviation:  tick.Deviation,
			DurationMS: float64(tick.Duration) / float64(time.Millisecond),
		},
		Clients: a.hub.ClientCount(),
	}
	if tick.State == tracking.TickIdle && !tick.Started.IsZero() {
		resp.LastTick.Reason = tick.Reason.String()
	}
	if tick.Err != nil {
		resp.LastTick.Error = tick.Err.Error()
	}
	if g := a.ctrl.CurrentGoal(); g.PathLength > 0 || !g.Received.IsZero() {
		data := goalData(g)
		resp.Goal = &data
	}
	return c.JSON(resp)
}

func (a *API) handleGoal(c *fiber.Ctx) error {
	var req GoalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid goal body: "+err.Error())
	}
	if req.X == nil || req.Y == nil {
		return badRequest(c, "goal needs both x and y")
	}
	p := r2.Point{X: *req.X, Y: *req.Y}
	if !finite(p.X) || !finite(p.Y) {
		return badRequest(c, "goal coordinates must be finite")
	}

	g := a.ctrl.OnNewGoal(a.ctx, p)
	a.log.Info("goal %s accepted from %s", g.ID, c.IP())
	data := goalData(g)
	a.hub.Broadcast(newMessage(MessageTypeGoal, data, time.Now()))
	return c.Status(fiber.StatusCreated).JSON(data)
}

func (a *API) handlePose(c *fiber.Ctx) error {
	var req PoseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid pose body: "+err.Error())
	}
	q := req.Orientation
	if q == (Quaternion{}) {
		q.W = 1
	}
	obs := tracking.PoseObservation{
		Position:    r3.Vector{X: req.Position.X, Y: req.Position.Y, Z: req.Position.Z},
		Orientation: quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z},
	}
	a.ctrl.OnPoseObservation(a.ctx, obs)
	st := tracking.StateFromObservation(obs)
	return c.JSON(StateData{X: st.X, Y: st.Y, Heading: st.Heading})
}

func goalData(g tracking.Goal) GoalData {
	return GoalData{
		ID:         g.ID.String(),
		X:          g.Point.X,
		Y:          g.Point.Y,
		PathLength: g.PathLength,
		Received:   g.Received,
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Success: false, Message: msg})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
