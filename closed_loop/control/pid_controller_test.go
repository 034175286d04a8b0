package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPIDProportional(t *testing.T) {
	pid := NewPIDController(PIDConfig{Kp: 2, MaxOutput: 10, MinOutput: -10})
	assert.InDelta(t, 1.0, pid.Update(0.5, 0.1), 1e-12)
	assert.InDelta(t, -1.0, pid.Update(-0.5, 0.1), 1e-12)
}

func TestPIDNoDerivativeKickOnFirstCall(t *testing.T) {
	pid := NewPIDController(PIDConfig{Kd: 1, MaxOutput: 100, MinOutput: -100})
	assert.Zero(t, pid.Update(3, 0.1))
	assert.InDelta(t, 10.0, pid.Update(4, 0.1), 1e-9)
}

func TestPIDSaturatesAndBacksOffIntegral(t *testing.T) {
	pid := NewPIDController(PIDConfig{Kp: 1, Ki: 1, MaxOutput: 1, MinOutput: -1, IntegralLimit: 100})
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, pid.Update(5, 0.1), 1.0)
	}
	// the integral must not have wound up past what saturation allows
	assert.InDelta(t, 1.0-5.0, pid.GetDiagnostics().Integral, 1e-9)
	assert.InDelta(t, -1.0, pid.Update(-5, 0.1), 1e-9)
}

func TestPIDReset(t *testing.T) {
	pid := NewPIDController(PIDConfig{Kp: 1, Ki: 1, MaxOutput: 10, MinOutput: -10})
	pid.Update(1, 1)
	pid.Reset()
	d := pid.GetDiagnostics()
	assert.Zero(t, d.Integral)
	assert.Zero(t, d.Error)
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 1.0, ClampFloat(3, -1, 1))
	assert.Equal(t, -1.0, ClampFloat(-3, -1, 1))
	assert.Equal(t, 0.5, ClampFloat(0.5, -1, 1))
}
