package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"trajtrack-core/closed_loop/control"
	"trajtrack-core/closed_loop/planner"
	"trajtrack-core/closed_loop/recorder"
	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/closed_loop/viz"
	"trajtrack-core/utils"
)

const httpShutdownTimeout = 5 * time.Second

// Runner owns the process: the bus, the orchestrator and its outer surfaces.
type Runner struct {
	cfg   Config
	log   *utils.Logger
	clock clock.Clock

	reader utils.CANReader
	writer utils.CANWriter
	bridge *CANBridge

	hub *viz.Hub
	srv *tracking.Server
	rec *recorder.Recorder

	lastOdometry atomic.Int64 // unix nanoseconds, 0 before the first frame
}

// NewRunner opens the bus (when an interface is configured) and assembles
// the orchestrator.
func NewRunner(ctx context.Context, cfg Config, log *utils.Logger) (*Runner, error) {
	var (
		reader utils.CANReader
		writer utils.CANWriter
	)
	if cfg.CAN.Interface != "" {
		w, err := utils.NewSocketCANWriter(ctx, cfg.CAN.Interface)
		if err != nil {
			return nil, err
		}
		rd, err := utils.NewSocketCANReader(ctx, cfg.CAN.Interface)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
		reader, writer = rd, w
	} else {
		log.Warn("No CAN interface configured; poses come from the HTTP API only")
	}

	r, err := assemble(cfg, log, clock.New(), reader, writer)
	if err != nil {
		if reader != nil {
			err = multierr.Append(err, reader.Close())
		}
		if writer != nil {
			err = multierr.Append(err, writer.Close())
		}
		return nil, err
	}
	return r, nil
}

// assemble wires the orchestrator around an already open bus. reader and
// writer are either both set or both nil.
func assemble(cfg Config, log *utils.Logger, clk clock.Clock, reader utils.CANReader, writer utils.CANWriter) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		log:    log,
		clock:  clk,
		reader: reader,
		writer: writer,
		hub:    viz.NewHub(log),
	}

	pubs := publishers{viz.NewPublisher(r.hub, clk)}
	if writer != nil {
		cmap, err := utils.LoadCANMap(cfg.CAN.MapPath)
		if err != nil {
			return nil, errors.Wrap(err, "load can map")
		}
		r.bridge, err = NewCANBridge(cmap, writer, cfg.CAN.OdometryFrame, cfg.CAN.CommandFrame, log)
		if err != nil {
			return nil, errors.Wrap(err, "can bridge")
		}
		pubs = append(pubs, r.bridge)
	}

	pl, err := planner.NewHermitePlanner(cfg.Planner, log)
	if err != nil {
		return nil, err
	}
	tracker, err := control.NewTrajectoryTracker(cfg.Params(), cfg.Tracker, log)
	if err != nil {
		return nil, err
	}

	opts := []tracking.Option{tracking.WithClock(clk)}
	if cfg.Recorder.Path != "" {
		r.rec, err = recorder.Open(cfg.RecorderConfig(), log, recorder.WithClock(clk))
		if err != nil {
			return nil, errors.Wrap(err, "open recorder")
		}
		opts = append(opts, tracking.WithRecorder(r.rec))
	}

	r.srv, err = tracking.NewServer(cfg.Tracking(), pl, tracker, pubs, log, opts...)
	if err != nil {
		if r.rec != nil {
			err = multierr.Append(err, r.rec.Close())
		}
		return nil, err
	}
	return r, nil
}

// Close releases the bus and the recorder and logs the command frame counts.
func (r *Runner) Close() error {
	var err error
	if r.reader != nil {
		err = multierr.Append(err, r.reader.Close())
	}
	if r.writer != nil {
		err = multierr.Append(err, r.writer.Close())
	}
	if r.rec != nil {
		err = multierr.Append(err, r.rec.Close())
	}
	if r.bridge != nil {
		sent, failed := r.bridge.Counts()
		r.log.Info("Stopped. command frames sent=%d failed=%d", sent, failed)
	}
	return err
}

// Run blocks until ctx is done or one of the activities fails.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.hub.Run(ctx) })
	g.Go(func() error { return r.srv.Run(ctx) })

	if r.reader != nil {
		g.Go(func() error { return r.receiveLoop(ctx) })
		if r.cfg.OdometryTimeoutS > 0 {
			ticker := r.clock.Ticker(seconds(r.cfg.OdometryTimeoutS))
			g.Go(func() error { return r.watchOdometry(ctx, ticker) })
		}
	}

	if r.cfg.HTTP.Listen != "" {
		app := r.newAPI(ctx).App()
		g.Go(func() error {
			r.log.Info("HTTP listening on %s", r.cfg.HTTP.Listen)
			return errors.Wrap(app.Listen(r.cfg.HTTP.Listen), "http listen")
		})
		g.Go(func() error { return r.shutdownHTTP(ctx, app) })
	}

	r.log.Info("Running: iface=%q http=%q recorder=%q",
		r.cfg.CAN.Interface, r.cfg.HTTP.Listen, r.cfg.Recorder.Path)
	return g.Wait()
}

// newAPI accepts poses over HTTP only when no bus supplies odometry.
func (r *Runner) newAPI(ctx context.Context) *viz.API {
	var opts []viz.APIOption
	if r.reader == nil {
		opts = append(opts, viz.WithPoseInput())
	}
	return viz.NewAPI(ctx, r.srv, r.hub, r.log, opts...)
}

func (r *Runner) shutdownHTTP(ctx context.Context, app *fiber.App) error {
	<-ctx.Done()
	if err := app.ShutdownWithTimeout(httpShutdownTimeout); err != nil {
		r.log.Warn("HTTP shutdown: %v", err)
	}
	return ctx.Err()
}

// receiveLoop feeds odometry frames to the orchestrator until the reader fails.
func (r *Runner) receiveLoop(ctx context.Context) error {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "can receive")
		}
		r.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])

		obs, ok, err := r.bridge.DecodeOdometry(frame)
		if !ok {
			continue
		}
		if err != nil {
			r.log.Warn("Dropping odometry frame: %v", err)
			continue
		}
		r.lastOdometry.Store(r.clock.Now().UnixNano())
		r.srv.OnPoseObservation(ctx, obs)
	}
}

// watchOdometry warns once each time odometry goes quiet for longer than one
// ticker period, and again when it resumes.
func (r *Runner) watchOdometry(ctx context.Context, ticker *clock.Ticker) error {
	defer ticker.Stop()
	limit := seconds(r.cfg.OdometryTimeoutS)
	stale := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			last := r.lastOdometry.Load()
			age := now.Sub(time.Unix(0, last))
			switch {
			case (last == 0 || age > limit) && !stale:
				stale = true
				if last == 0 {
					r.log.Warn("No odometry received yet; vehicle state is stale")
				} else {
					r.log.Warn("No odometry for %.1f ms; vehicle state is stale", age.Seconds()*1000)
				}
			case last != 0 && age <= limit && stale:
				stale = false
				r.log.Info("Odometry resumed")
			}
		}
	}
}
