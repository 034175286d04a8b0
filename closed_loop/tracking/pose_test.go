package tracking

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func yawQuaternion(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

func TestHeadingFromQuaternion(t *testing.T) {
	for _, yaw := range []float64{0, 0.3, math.Pi / 2, -math.Pi / 2, 2.5, -3} {
		assert.InDelta(t, yaw, HeadingFromQuaternion(yawQuaternion(yaw)), 1e-9, "yaw %v", yaw)
	}
	assert.InDelta(t, 0.0, HeadingFromQuaternion(quat.Number{Real: 1}), 1e-12)
}

func TestStateFromObservationWrapsHeading(t *testing.T) {
	st := StateFromObservation(PoseObservation{
		Position:    r3.Vector{X: 1, Y: -2, Z: 7},
		Orientation: yawQuaternion(math.Pi),
	})
	assert.Equal(t, 1.0, st.X)
	assert.Equal(t, -2.0, st.Y)
	assert.InDelta(t, math.Pi, st.Heading, 1e-9)
	assert.Greater(t, st.Heading, -math.Pi)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, math.Pi, WrapAngle(-math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, WrapAngle(math.Pi), 1e-12)
	assert.InDelta(t, -math.Pi/2, WrapAngle(3*math.Pi/2), 1e-12)
	assert.InDelta(t, 0.5, WrapAngle(0.5+4*math.Pi), 1e-9)
}

func TestPoseObservationReplacesState(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	observations := []PoseObservation{
		{Position: r3.Vector{X: 1, Y: 1}, Orientation: yawQuaternion(0.2)},
		{Position: r3.Vector{X: -4, Y: 3}, Orientation: yawQuaternion(-1.2)},
		{Position: r3.Vector{X: 0.5, Y: 0}, Orientation: quat.Number{Real: 2}}, // non-unit, used as-is
	}
	for _, obs := range observations {
		h.srv.OnPoseObservation(ctx, obs)
		assert.Equal(t, StateFromObservation(obs), h.srv.State())
	}
}

func TestStateSnapshotsAreNeverTorn(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := float64(i % 1000)
			h.srv.OnPoseObservation(ctx, PoseObservation{Position: r3.Vector{X: v, Y: v}})
		}
	}()

	for i := 0; i < 20000; i++ {
		st := h.srv.State()
		require.Equal(t, st.X, st.Y)
	}
	close(stop)
	wg.Wait()
}
