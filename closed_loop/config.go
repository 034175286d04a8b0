package main

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"trajtrack-core/closed_loop/control"
	"trajtrack-core/closed_loop/planner"
	"trajtrack-core/closed_loop/recorder"
	"trajtrack-core/closed_loop/tracking"
)

// Config is the process configuration, read from a JSON file
type Config struct {
	// Controller shape and rates
	Horizon                int                  `json:"horizon"`
	StateSize              int                  `json:"state_size"`
	ControlIntervalS       float64              `json:"control_interval_s"`
	ReferenceWindowPeriodS float64              `json:"reference_window_period_s"`
	SolveTimeoutS          float64              `json:"solve_timeout_s"` // 0 = unbounded
	NearTargetThreshold    float64              `json:"near_target_threshold"`
	FarOffPathThreshold    float64              `json:"far_off_path_threshold"`
	OdometryTimeoutS       float64              `json:"odometry_timeout_s"`
	Wander                 WanderConfig         `json:"wander"`
	Planner                planner.Config       `json:"planner"`
	Tracker                control.TrackerParam `json:"tracker"`
	CAN                    CANConfig            `json:"can"`
	HTTP                   HTTPConfig           `json:"http"`
	Recorder               RecorderConfig       `json:"recorder"`
	Log                    LogConfig            `json:"log"`
}

// WanderConfig generates goals around the vehicle when it has nothing to do.
type WanderConfig struct {
	IntervalS    float64 `json:"interval_s"` // 0 disables
	InnerRadius  float64 `json:"inner_radius"`
	OuterRadius  float64 `json:"outer_radius"`
	HalfAngleRad float64 `json:"half_angle_rad"`
}

// CANConfig selects the bus and the frames carrying odometry and commands.
type CANConfig struct {
	Interface     string `json:"interface"` // empty runs without a bus
	MapPath       string `json:"map"`
	OdometryFrame string `json:"odometry_frame"`
	CommandFrame  string `json:"command_frame"`
}

// HTTPConfig controls the HTTP and websocket API.
type HTTPConfig struct {
	Listen string `json:"listen"` // empty disables the API
}

// RecorderConfig controls the run database.
type RecorderConfig struct {
	Path           string  `json:"path"` // empty disables recording
	FlushSize      int     `json:"flush_size"`
	FlushIntervalS float64 `json:"flush_interval_s"`
}

// LogConfig selects the log level and file.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DefaultConfig returns the values the vehicle runs with when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Horizon:                10,
		StateSize:              3,
		ControlIntervalS:       0.1,
		ReferenceWindowPeriodS: 0.1,
		NearTargetThreshold:    tracking.DefaultThresholds.NearTarget,
		FarOffPathThreshold:    tracking.DefaultThresholds.FarOffPath,
		OdometryTimeoutS:       0.5,
		Wander: WanderConfig{
			InnerRadius:  tracking.DefaultWander.InnerRadius,
			OuterRadius:  tracking.DefaultWander.OuterRadius,
			HalfAngleRad: tracking.DefaultWander.HalfAngle,
		},
		Planner: planner.DefaultConfig(),
		Tracker: control.DefaultTrackerParam(),
		CAN: CANConfig{
			Interface:     "vcan0",
			MapPath:       "config/can/vehicle_map.csv",
			OdometryFrame: "ODOMETRY",
			CommandFrame:  "CMD_VEL",
		},
		HTTP:     HTTPConfig{Listen: ":8080"},
		Recorder: RecorderConfig{FlushSize: 50, FlushIntervalS: 5},
		Log:      LogConfig{Level: "info", File: "closed_loop.log"},
	}
}

// LoadConfig reads path over the defaults, applies TRACKING_* environment
// overrides and validates the result. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read file")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "unmarshal")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from TRACKING_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "env %s", key)
			}
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "env %s", key)
			}
			return
		}
		*dst = n
	}

	integer("TRACKING_HORIZON", &c.Horizon)
	integer("TRACKING_STATE_SIZE", &c.StateSize)
	num("TRACKING_CONTROL_INTERVAL_S", &c.ControlIntervalS)
	num("TRACKING_REFERENCE_WINDOW_PERIOD_S", &c.ReferenceWindowPeriodS)
	num("TRACKING_SOLVE_TIMEOUT_S", &c.SolveTimeoutS)
	num("TRACKING_NEAR_TARGET_THRESHOLD", &c.NearTargetThreshold)
	num("TRACKING_FAR_OFF_PATH_THRESHOLD", &c.FarOffPathThreshold)
	num("TRACKING_WANDER_INTERVAL_S", &c.Wander.IntervalS)
	str("TRACKING_CAN_IFACE", &c.CAN.Interface)
	str("TRACKING_CAN_MAP", &c.CAN.MapPath)
	str("TRACKING_HTTP_LISTEN", &c.HTTP.Listen)
	str("TRACKING_DB", &c.Recorder.Path)
	str("TRACKING_LOG_LEVEL", &c.Log.Level)
	str("TRACKING_LOG_FILE", &c.Log.File)
	return firstErr
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Tracking().Validate(); err != nil {
		return err
	}
	if c.OdometryTimeoutS < 0 {
		return errors.Errorf("invalid odometry_timeout_s: %f", c.OdometryTimeoutS)
	}
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if c.CAN.Interface != "" && (c.CAN.MapPath == "" || c.CAN.OdometryFrame == "" || c.CAN.CommandFrame == "") {
		return errors.New("can: map, odometry_frame and command_frame are required with an interface")
	}
	return nil
}

// Params is the controller shape.
func (c Config) Params() tracking.ControllerParameters {
	return tracking.ControllerParameters{
		Horizon:         c.Horizon,
		ControlInterval: seconds(c.ControlIntervalS),
		StateSize:       c.StateSize,
	}
}

// Tracking is the orchestrator configuration.
func (c Config) Tracking() tracking.Config {
	return tracking.Config{
		Params: c.Params(),
		Thresholds: tracking.Thresholds{
			NearTarget: c.NearTargetThreshold,
			FarOffPath: c.FarOffPathThreshold,
		},
		ReferenceWindowPeriod: seconds(c.ReferenceWindowPeriodS),
		SolveTimeout:          seconds(c.SolveTimeoutS),
		Wander: tracking.WanderConfig{
			Interval:    seconds(c.Wander.IntervalS),
			InnerRadius: c.Wander.InnerRadius,
			OuterRadius: c.Wander.OuterRadius,
			HalfAngle:   c.Wander.HalfAngleRad,
		},
	}
}

// RecorderConfig is the recorder configuration.
func (c Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		Path:          c.Recorder.Path,
		FlushSize:     c.Recorder.FlushSize,
		FlushInterval: seconds(c.Recorder.FlushIntervalS),
	}
}

// seconds converts a JSON seconds value, rounding to the nearest nanosecond.
func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
