package main

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
	"trajtrack-core/utils/logtest"
)

const testMapPath = "../config/can/vehicle_map.csv"

type fakeWriter struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
	closed bool
}

func (w *fakeWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) sent() []can.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]can.Frame(nil), w.frames...)
}

func newTestBridge(t *testing.T, w utils.CANWriter) (*CANBridge, *utils.CANMap) {
	t.Helper()
	cmap, err := utils.LoadCANMap(testMapPath)
	require.NoError(t, err)
	b, err := NewCANBridge(cmap, w, "ODOMETRY", "CMD_VEL", logtest.New(t))
	require.NoError(t, err)
	return b, cmap
}

func odometryFrame(t *testing.T, cmap *utils.CANMap, x, y, yaw float64) can.Frame {
	t.Helper()
	f, err := cmap.EncodeFrame("ODOMETRY", map[string]float64{
		"pos_x_m": x,
		"pos_y_m": y,
		"quat_z":  math.Sin(yaw / 2),
		"quat_w":  math.Cos(yaw / 2),
	})
	require.NoError(t, err)
	return f
}

func TestNewCANBridgeValidatesFrames(t *testing.T) {
	cmap, err := utils.LoadCANMap(testMapPath)
	require.NoError(t, err)
	log := logtest.New(t)

	_, err = NewCANBridge(cmap, &fakeWriter{}, "NOPE", "CMD_VEL", log)
	assert.Error(t, err)

	// CMD_VEL has no pose signals
	_, err = NewCANBridge(cmap, &fakeWriter{}, "CMD_VEL", "CMD_VEL", log)
	assert.ErrorContains(t, err, "pos_x_m")

	_, err = NewCANBridge(cmap, &fakeWriter{}, "ODOMETRY", "ODOMETRY", log)
	assert.ErrorContains(t, err, "linear_x_mps")
}

func TestDecodeOdometry(t *testing.T) {
	b, cmap := newTestBridge(t, &fakeWriter{})

	obs, ok, err := b.DecodeOdometry(odometryFrame(t, cmap, 3.25, -1.5, math.Pi/2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.25, obs.Position.X, 0.005)
	assert.InDelta(t, -1.5, obs.Position.Y, 0.005)
	assert.Zero(t, obs.Orientation.Imag)
	assert.Zero(t, obs.Orientation.Jmag)

	state := tracking.StateFromObservation(obs)
	assert.InDelta(t, math.Pi/2, state.Heading, 0.002)
}

func TestDecodeOdometryIgnoresOtherFrames(t *testing.T) {
	b, _ := newTestBridge(t, &fakeWriter{})

	_, ok, err := b.DecodeOdometry(can.Frame{ID: 0x200, Length: 5})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeOdometryShortFrame(t *testing.T) {
	b, _ := newTestBridge(t, &fakeWriter{})

	_, ok, err := b.DecodeOdometry(can.Frame{ID: 0x310, Length: 4})
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestPublishCommand(t *testing.T) {
	w := &fakeWriter{}
	b, cmap := newTestBridge(t, w)
	ctx := context.Background()

	b.PublishCommand(ctx, tracking.Command{Linear: 0.8, Angular: -0.1})
	b.PublishCommand(ctx, tracking.Command{})

	frames := w.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0x200), frames[0].ID)
	assert.Equal(t, uint8(5), frames[0].Length)

	moving, err := cmap.DecodeFrame(frames[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.8, moving["linear_x_mps"], 1e-9)
	assert.InDelta(t, -0.1, moving["angular_z_rps"], 1e-9)
	assert.Equal(t, 1.0, moving["enable"])

	// zero command clears the enable bit
	assert.Equal(t, can.Data{}, frames[1].Data)

	sent, failed := b.Counts()
	assert.Equal(t, uint64(2), sent)
	assert.Zero(t, failed)
}

func TestPublishCommandWriteFailureIsCounted(t *testing.T) {
	w := &fakeWriter{err: errors.New("bus off")}
	b, _ := newTestBridge(t, w)

	assert.NotPanics(t, func() {
		b.PublishCommand(context.Background(), tracking.Command{Linear: 0.5})
	})
	sent, failed := b.Counts()
	assert.Zero(t, sent)
	assert.Equal(t, uint64(1), failed)
}

type recordingPublisher struct {
	calls []string
}

func (p *recordingPublisher) PublishGlobalPath(context.Context, []r2.Point) {
	p.calls = append(p.calls, "path")
}

func (p *recordingPublisher) PublishLocalWindow(context.Context, []r2.Point) {
	p.calls = append(p.calls, "window")
}

func (p *recordingPublisher) PublishCommand(context.Context, tracking.Command) {
	p.calls = append(p.calls, "command")
}

func TestPublishersFanOut(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	ps := publishers{a, b}
	ctx := context.Background()

	ps.PublishGlobalPath(ctx, nil)
	ps.PublishLocalWindow(ctx, nil)
	ps.PublishCommand(ctx, tracking.Command{})

	want := []string{"path", "window", "command"}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
}
