// Package viz is the operator-facing gateway: it renders paths and commands
// as line-strip markers and twists, fans them out to websocket clients and
// serves the HTTP API used to send goals and poses.
package viz

import (
	"time"

	"github.com/golang/geo/r2"

	"trajtrack-core/closed_loop/tracking"
)

// Message types sent to websocket clients
const (
	MessageTypeGlobalPath  = "global_path"
	MessageTypeLocalWindow = "local_window"
	MessageTypeCommand     = "cmd_vel"
	MessageTypeGoal        = "goal"
)

// Message is the envelope of everything sent over the websocket
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"` // Unix timestamp (ms)
}

func newMessage(typ string, data interface{}, now time.Time) Message {
	return Message{Type: typ, Data: data, Timestamp: now.UnixMilli()}
}

// Marker line-strip constants
const (
	MarkerFrameID   = "odom"
	MarkerNamespace = "vehicle_traj"
	MarkerLineStrip = 4
	MarkerActionAdd = 0

	GlobalPathMarkerID  = 1
	LocalWindowMarkerID = 2
)

// Vector3 is a point or vector in the map frame.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation; W is the real part.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// ColorRGBA components are in [0, 1].
type ColorRGBA struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Header names the frame and time a marker refers to.
type Header struct {
	FrameID string    `json:"frame_id"`
	Stamp   time.Time `json:"stamp"`
}

// Pose is a position plus orientation.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Marker is a line strip in the odometry frame
type Marker struct {
	Header Header    `json:"header"`
	Ns     string    `json:"ns"`
	ID     int       `json:"id"`
	Type   int       `json:"type"`
	Action int       `json:"action"`
	Pose   Pose      `json:"pose"`
	Scale  Vector3   `json:"scale"`
	Color  ColorRGBA `json:"color"`
	Points []Vector3 `json:"points"`
}

func lineStrip(id int, width float64, color ColorRGBA, points []r2.Point, stamp time.Time) Marker {
	m := Marker{
		Header: Header{FrameID: MarkerFrameID, Stamp: stamp},
		Ns:     MarkerNamespace,
		ID:     id,
		Type:   MarkerLineStrip,
		Action: MarkerActionAdd,
		Pose:   Pose{Orientation: Quaternion{W: 1}},
		Scale:  Vector3{X: width},
		Color:  color,
		Points: make([]Vector3, len(points)),
	}
	for i, p := range points {
		m.Points[i] = Vector3{X: p.X, Y: p.Y}
	}
	return m
}

// GlobalPathMarker renders the global path as a thin red line.
func GlobalPathMarker(path []r2.Point, stamp time.Time) Marker {
	return lineStrip(GlobalPathMarkerID, 0.05, ColorRGBA{R: 1, A: 1}, path, stamp)
}

// LocalWindowMarker renders the reference window as a thicker blue line.
func LocalWindowMarker(window []r2.Point, stamp time.Time) Marker {
	return lineStrip(LocalWindowMarkerID, 0.1, ColorRGBA{B: 1, A: 1}, window, stamp)
}

// Twist is a velocity command with all six axes spelled out
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// TwistFromCommand puts the command on linear.x and angular.z.
func TwistFromCommand(cmd tracking.Command) Twist {
	return Twist{
		Linear:  Vector3{X: cmd.Linear},
		Angular: Vector3{Z: cmd.Angular},
	}
}
