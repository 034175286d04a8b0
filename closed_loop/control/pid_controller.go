package control

// PIDController implements a discrete PID controller on an arbitrary error signal
type PIDController struct {
	cfg PIDConfig

	// State
	integral    float64
	prevError   float64
	initialized bool
}

// NewPIDController creates a new PID controller with given configuration
func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{
		cfg:         cfg,
		initialized: false,
	}
}

// Reset clears the PID state
func (pid *PIDController) Reset() {
	pid.integral = 0.0
	pid.prevError = 0.0
	pid.initialized = false
}

// Update computes the PID output for the given error and time delta
func (pid *PIDController) Update(err float64, dt float64) float64 {
	// No derivative kick on the first call
	if !pid.initialized {
		pid.prevError = err
		pid.initialized = true
	}

	// Proportional term
	p := pid.cfg.Kp * err

	// Integral term with anti-windup
	pid.integral += err * dt
	if pid.cfg.IntegralLimit > 0 {
		pid.integral = ClampFloat(pid.integral, -pid.cfg.IntegralLimit, pid.cfg.IntegralLimit)
	}
	i := pid.cfg.Ki * pid.integral

	// Derivative term
	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}

	out := p + i + d

	// Apply saturation limits
	if out > pid.cfg.MaxOutput {
		out = pid.cfg.MaxOutput
		// Anti-windup: back-calculate integral
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
		}
	} else if out < pid.cfg.MinOutput {
		out = pid.cfg.MinOutput
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
		}
	}

	pid.prevError = err
	return out
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}
