package main

import (
	"context"
	"sync/atomic"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.einride.tech/can"
	"gonum.org/v1/gonum/num/quat"

	"trajtrack-core/closed_loop/control"
	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
)

// Signals the bridge reads and writes. The map may carry more.
var (
	odometrySignals = []string{"pos_x_m", "pos_y_m", "quat_z", "quat_w"}
	commandSignals  = []string{"linear_x_mps", "angular_z_rps", "enable"}
)

// CANBridge translates between bus frames and the orchestrator: odometry
// frames become pose observations and commands become velocity frames.
type CANBridge struct {
	cmap   *utils.CANMap
	writer utils.CANWriter
	log    *utils.Logger
	odom   *utils.FrameDef
	cmd    *utils.FrameDef

	sent   atomic.Uint64
	failed atomic.Uint64
}

var _ tracking.Publisher = (*CANBridge)(nil)

// NewCANBridge checks that both frames exist and carry the signals the bridge reads or writes.
func NewCANBridge(cmap *utils.CANMap, writer utils.CANWriter, odometryFrame, commandFrame string, log *utils.Logger) (*CANBridge, error) {
	odom, err := lookupFrame(cmap, odometryFrame, odometrySignals)
	if err != nil {
		return nil, err
	}
	cmd, err := lookupFrame(cmap, commandFrame, commandSignals)
	if err != nil {
		return nil, err
	}
	return &CANBridge{
		cmap:   cmap,
		writer: writer,
		log:    log.Named("can"),
		odom:   odom,
		cmd:    cmd,
	}, nil
}

func lookupFrame(cmap *utils.CANMap, name string, signals []string) (*utils.FrameDef, error) {
	fd, err := cmap.FrameByName(name)
	if err != nil {
		return nil, err
	}
	for _, s := range signals {
		if _, ok := fd.Signal(s); !ok {
			return nil, errors.Errorf("frame %s lacks signal %s", name, s)
		}
	}
	return fd, nil
}

// DecodeOdometry converts an odometry frame into a pose observation. ok is
// false for frames with any other ID.
func (b *CANBridge) DecodeOdometry(frame can.Frame) (obs tracking.PoseObservation, ok bool, err error) {
	if frame.ID != b.odom.ID {
		return tracking.PoseObservation{}, false, nil
	}
	values, err := b.cmap.DecodeFrame(frame)
	if err != nil {
		return tracking.PoseObservation{}, true, err
	}
	// planar vehicle: roll and pitch are not on the bus
	return tracking.PoseObservation{
		Position:    r3.Vector{X: values["pos_x_m"], Y: values["pos_y_m"]},
		Orientation: quat.Number{Real: values["quat_w"], Kmag: values["quat_z"]},
	}, true, nil
}

// EncodeCommand builds the velocity frame for cmd. The enable bit is cleared
// for the zero command.
func (b *CANBridge) EncodeCommand(cmd tracking.Command) (can.Frame, error) {
	return b.cmap.EncodeFrame(b.cmd.Name, map[string]float64{
		"linear_x_mps":  cmd.Linear,
		"angular_z_rps": cmd.Angular,
		"enable":        control.BoolToFloat(!cmd.IsZero()),
	})
}

// PublishCommand transmits cmd. Failures are logged and counted; the control
// loop keeps running.
func (b *CANBridge) PublishCommand(ctx context.Context, cmd tracking.Command) {
	frame, err := b.EncodeCommand(cmd)
	if err != nil {
		b.failed.Add(1)
		b.log.Error("Encode %s failed: %v", b.cmd.Name, err)
		return
	}
	if err := b.writer.WriteFrame(ctx, frame); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.failed.Add(1)
		b.log.Error("Transmit %s failed: %v", b.cmd.Name, err)
		return
	}
	n := b.sent.Add(1)
	b.log.Trace("TX #%d id=0x%X len=%d data=% X v=%.3f w=%.3f",
		n, frame.ID, frame.Length, frame.Data[:frame.Length], cmd.Linear, cmd.Angular)
}

// The bus carries commands only.
func (b *CANBridge) PublishGlobalPath(context.Context, []r2.Point)  {}
func (b *CANBridge) PublishLocalWindow(context.Context, []r2.Point) {}

// Counts returns the number of transmitted and failed command frames.
func (b *CANBridge) Counts() (sent, failed uint64) {
	return b.sent.Load(), b.failed.Load()
}

// publishers fans every output out to each member in order.
type publishers []tracking.Publisher

var _ tracking.Publisher = publishers(nil)

// PublishGlobalPath forwards path to every member.
func (ps publishers) PublishGlobalPath(ctx context.Context, path []r2.Point) {
	for _, p := range ps {
		p.PublishGlobalPath(ctx, path)
	}
}

// PublishLocalWindow forwards window to every member.
func (ps publishers) PublishLocalWindow(ctx context.Context, window []r2.Point) {
	for _, p := range ps {
		p.PublishLocalWindow(ctx, window)
	}
}

// PublishCommand forwards cmd to every member.
func (ps publishers) PublishCommand(ctx context.Context, cmd tracking.Command) {
	for _, p := range ps {
		p.PublishCommand(ctx, cmd)
	}
}
