package main

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
	"trajtrack-core/utils/logtest"
)

type fakeReader struct {
	frames    chan can.Frame
	closeOnce sync.Once
}

func newFakeReader() *fakeReader {
	return &fakeReader{frames: make(chan can.Frame, 16)}
}

func (r *fakeReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-r.frames:
		if !ok {
			return can.Frame{}, utils.ErrReaderClosed
		}
		return f, nil
	}
}

func (r *fakeReader) Close() error {
	r.closeOnce.Do(func() { close(r.frames) })
	return nil
}

func testRunnerConfig() Config {
	cfg := DefaultConfig()
	cfg.CAN.MapPath = testMapPath
	cfg.HTTP.Listen = ""
	return cfg
}

func TestAssembleWithoutBus(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.CAN = CANConfig{}

	r, err := assemble(cfg, logtest.New(t), clock.NewMock(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, r.bridge)
	assert.NoError(t, r.Close())
}

func TestAssembleRejectsBadMap(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.CAN.MapPath = filepath.Join(t.TempDir(), "missing.csv")

	_, err := assemble(cfg, logtest.New(t), clock.NewMock(), newFakeReader(), &fakeWriter{})
	assert.ErrorContains(t, err, "load can map")
}

func TestAssembleWithRecorder(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.Recorder.Path = filepath.Join(t.TempDir(), "runs.db")

	r, err := assemble(cfg, logtest.New(t), clock.NewMock(), newFakeReader(), &fakeWriter{})
	require.NoError(t, err)
	require.NotNil(t, r.rec)

	goal := r.srv.OnNewGoal(context.Background(), r2.Point{X: 3})
	rows, err := r.rec.Goals(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, goal.ID, rows[0].ID)
	assert.NoError(t, r.Close())
}

func TestReceiveLoopFeedsPose(t *testing.T) {
	reader, writer := newFakeReader(), &fakeWriter{}
	mock := clock.NewMock()
	mock.Add(time.Minute)
	r, err := assemble(testRunnerConfig(), logtest.New(t), mock, reader, writer)
	require.NoError(t, err)

	cmap, err := utils.LoadCANMap(testMapPath)
	require.NoError(t, err)

	reader.frames <- can.Frame{ID: 0x200, Length: 5} // our own command, ignored
	reader.frames <- can.Frame{ID: 0x310, Length: 2} // short, dropped
	reader.frames <- odometryFrame(t, cmap, 1.5, 2.0, math.Pi/4)
	require.NoError(t, reader.Close())

	err = r.receiveLoop(context.Background())
	assert.ErrorIs(t, err, utils.ErrReaderClosed)

	state := r.srv.State()
	assert.InDelta(t, 1.5, state.X, 0.005)
	assert.InDelta(t, 2.0, state.Y, 0.005)
	assert.InDelta(t, math.Pi/4, state.Heading, 0.002)
	assert.NotZero(t, r.lastOdometry.Load())
}

func TestReceiveLoopStopsOnCancel(t *testing.T) {
	r, err := assemble(testRunnerConfig(), logtest.New(t), clock.NewMock(), newFakeReader(), &fakeWriter{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.receiveLoop(ctx), context.Canceled)
}

func TestTickCommandReachesBus(t *testing.T) {
	writer := &fakeWriter{}
	r, err := assemble(testRunnerConfig(), logtest.New(t), clock.NewMock(), newFakeReader(), writer)
	require.NoError(t, err)

	// no goal yet: the gate suppresses control and the bus sees a disabled stop
	res := r.srv.Tick(context.Background())
	assert.Equal(t, tracking.Command{}, res.Command)

	frames := writer.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x200), frames[0].ID)
	assert.Equal(t, can.Data{}, frames[0].Data)
}

func TestWatchOdometry(t *testing.T) {
	log, logs := logtest.NewObserved(t)
	mock := clock.NewMock()
	r, err := assemble(testRunnerConfig(), log, mock, newFakeReader(), &fakeWriter{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ticker := mock.Ticker(seconds(r.cfg.OdometryTimeoutS))
	done := make(chan error, 1)
	go func() { done <- r.watchOdometry(ctx, ticker) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	stale := func() int { return logs.FilterMessageSnippet("vehicle state is stale").Len() }
	resumed := func() int { return logs.FilterMessageSnippet("Odometry resumed").Len() }

	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return stale() == 1 }, time.Second, 5*time.Millisecond)

	// still quiet: no repeat
	mock.Add(500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, stale())

	r.lastOdometry.Store(mock.Now().UnixNano())
	mock.Add(500 * time.Millisecond)
	require.Eventually(t, func() bool { return resumed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, stale())
}

func postPose(t *testing.T, r *Runner) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/pose", strings.NewReader(`{"position": {"x": 1, "y": 2}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.newAPI(context.Background()).App().Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestHTTPPoseOnlyWithoutBus(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.CAN = CANConfig{}
	noBus, err := assemble(cfg, logtest.New(t), clock.NewMock(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postPose(t, noBus))
	assert.InDelta(t, 1.0, noBus.srv.State().X, 1e-12)

	// odometry owns the vehicle state once a bus is attached
	withBus, err := assemble(testRunnerConfig(), logtest.New(t), clock.NewMock(), newFakeReader(), &fakeWriter{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, postPose(t, withBus))
	assert.Zero(t, withBus.srv.State())
}
