package tracking

import "github.com/golang/geo/r2"

// GateReason says why control was suppressed.
type GateReason int

const (
	GatePass GateReason = iota
	GateArrived
	GateOffPath
	GateNoWindow
)

// String is the reason name used in logs and the API.
func (r GateReason) String() string {
	switch r {
	case GatePass:
		return "pass"
	case GateArrived:
		return "arrived"
	case GateOffPath:
		return "off-path"
	case GateNoWindow:
		return "no-window"
	default:
		return "unknown"
	}
}

// GateInput is what the safety gate looks at, all taken from the current tick.
type GateInput struct {
	State     VehicleState
	Target    r2.Point
	Window    []r2.Point
	Deviation float64
}

// ShouldControl reports whether the optimizer may run for in. When it may
// not, the returned reason is the first failing check.
func ShouldControl(in GateInput, th Thresholds) (bool, GateReason) {
	if in.State.Position().Sub(in.Target).Norm() < th.NearTarget {
		return false, GateArrived
	}
	if in.Deviation > th.FarOffPath {
		return false, GateOffPath
	}
	if len(in.Window) == 0 {
		return false, GateNoWindow
	}
	return true, GatePass
}
