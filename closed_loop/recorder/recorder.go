// Package recorder persists goals and control tick outcomes to SQLite.
// Ticks are buffered and written in batches off the control loop.
package recorder

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"trajtrack-core/closed_loop/tracking"
	"trajtrack-core/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS goals (
	goal_id TEXT PRIMARY KEY,
	x DOUBLE,
	y DOUBLE,
	path_length INTEGER,
	received_us BIGINT
);
CREATE TABLE IF NOT EXISTS ticks (
	tick_id INTEGER PRIMARY KEY AUTOINCREMENT,
	goal_id TEXT,
	started_us BIGINT,
	state TEXT,
	reason TEXT,
	linear DOUBLE,
	angular DOUBLE,
	deviation DOUBLE,
	duration_us BIGINT,
	error TEXT,
	x DOUBLE,
	y DOUBLE,
	heading DOUBLE
);
CREATE INDEX IF NOT EXISTS ticks_goal ON ticks(goal_id);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

const insertTick = `INSERT INTO ticks
	(goal_id, started_us, state, reason, linear, angular, deviation, duration_us, error, x, y, heading)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Config holds recorder parameters
type Config struct {
	Path          string
	FlushSize     int
	FlushInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlushSize <= 0 {
		c.FlushSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
}

type tickRow struct {
	goalID uuid.UUID
	res    tracking.TickResult
}

// Recorder implements tracking.Recorder on a SQLite database.
type Recorder struct {
	cfg   Config
	db    *sql.DB
	log   *utils.Logger
	clock clock.Clock

	mu      sync.Mutex
	pending []tickRow
	flushMu sync.Mutex

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ tracking.Recorder = (*Recorder)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the clock driving periodic flushes.
func WithClock(c clock.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// Open opens (creating if needed) the database at cfg.Path and starts the
// background flusher.
func Open(cfg Config, log *utils.Logger, opts ...Option) (*Recorder, error) {
	cfg.applyDefaults()
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Path)
	}
	// one connection, so the pragmas below hold for every statement
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, multierr.Append(errors.Wrap(err, p), db.Close())
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "create schema"), db.Close())
	}

	r := &Recorder{
		cfg:   cfg,
		db:    db,
		log:   log.Named("recorder"),
		clock: clock.New(),
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	ticker := r.clock.Ticker(cfg.FlushInterval)
	go r.loop(ticker)
	r.log.Info("recording to %s (flush every %d ticks or %v)", cfg.Path, cfg.FlushSize, cfg.FlushInterval)
	return r, nil
}

func (r *Recorder) loop(ticker *clock.Ticker) {
	defer close(r.done)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.Flush(context.Background()); err != nil {
			r.log.Error("flush ticks: %v", err)
		}
	}
}

// RecordGoal stores g immediately. Errors are logged.
func (r *Recorder) RecordGoal(ctx context.Context, g tracking.Goal) {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO goals (goal_id, x, y, path_length, received_us) VALUES (?, ?, ?, ?, ?)",
		g.ID.String(), g.Point.X, g.Point.Y, g.PathLength, g.Received.UnixMicro())
	if err != nil {
		r.log.Error("record goal %s: %v", g.ID, err)
	}
}

// RecordTick buffers res; it never blocks on the database.
func (r *Recorder) RecordTick(_ context.Context, goalID uuid.UUID, res tracking.TickResult) {
	r.mu.Lock()
	r.pending = append(r.pending, tickRow{goalID: goalID, res: res})
	size := len(r.pending)
	r.mu.Unlock()

	if size >= r.cfg.FlushSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Flush writes every buffered tick in one transaction. A failed batch is dropped.
func (r *Recorder) Flush(ctx context.Context) (err error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	rows := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertTick)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	for _, row := range rows {
		res := row.res
		var errText string
		if res.Err != nil {
			errText = res.Err.Error()
		}
		var reason string
		if res.State == tracking.TickIdle {
			reason = res.Reason.String()
		}
		_, err = stmt.ExecContext(ctx,
			row.goalID.String(), res.Started.UnixMicro(), res.State.String(), reason,
			res.Command.Linear, res.Command.Angular, res.Deviation, res.Duration.Microseconds(), errText,
			res.Snapshot.State.X, res.Snapshot.State.Y, res.Snapshot.State.Heading)
		if err != nil {
			return errors.Wrap(err, "insert tick")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	r.log.Trace("flushed %d ticks", len(rows))
	return nil
}

// Close stops the flusher, writes what is still buffered and closes the database.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		r.closeErr = multierr.Append(r.Flush(context.Background()), r.db.Close())
	})
	return r.closeErr
}

// GoalRow is a stored goal
type GoalRow struct {
	ID         uuid.UUID
	X          float64
	Y          float64
	PathLength int
	Received   time.Time
}

// Goals returns every stored goal, oldest first.
func (r *Recorder) Goals(ctx context.Context) ([]GoalRow, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT goal_id, x, y, path_length, received_us FROM goals ORDER BY received_us")
	if err != nil {
		return nil, errors.Wrap(err, "query goals")
	}
	defer rows.Close()

	var out []GoalRow
	for rows.Next() {
		var (
			g  GoalRow
			id string
			us int64
		)
		if err := rows.Scan(&id, &g.X, &g.Y, &g.PathLength, &us); err != nil {
			return nil, errors.Wrap(err, "scan goal")
		}
		if g.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "goal id %q", id)
		}
		g.Received = time.UnixMicro(us)
		out = append(out, g)
	}
	return out, errors.Wrap(rows.Err(), "iterate goals")
}

// TickSummary counts the stored ticks of a goal by tick state.
func (r *Recorder) TickSummary(ctx context.Context, goalID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM ticks WHERE goal_id = ? GROUP BY state", goalID.String())
	if err != nil {
		return nil, errors.Wrap(err, "query ticks")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "scan tick summary")
		}
		out[state] = n
	}
	return out, errors.Wrap(rows.Err(), "iterate ticks")
}
