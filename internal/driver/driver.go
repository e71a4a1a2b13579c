// Package driver runs the frame loop around a turn scheduler: it feeds
// measured elapsed time into Tick, applies operator commands between
// frames and keeps the trackers bracketed to the open session.
package driver

import (
	"context"
	"io"
	"log/slog"
	"time"

	"vrflow/internal/flow"
	"vrflow/internal/tracker"
)

type Command int

const (
	CmdPause Command = iota
	CmdEnd
	CmdNext
	CmdRestart
)

func (c Command) String() string {
	switch c {
	case CmdPause:
		return "pause"
	case CmdEnd:
		return "end"
	case CmdNext:
		return "next"
	case CmdRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Scheduler is the part of *flow.Scheduler the loop drives.
type Scheduler interface {
	Tick(delta float64) bool
	TogglePause() bool
	EndTurn(reason flow.EndReason) bool
	AdvanceParticipant() bool
	Restart() error
	Shutdown() bool
	Phase() flow.Phase
	IsPaused() bool
	CurrentSession() (flow.Session, bool)
}

type Driver struct {
	sched    Scheduler
	trackers []tracker.Tracker
	cmds     chan Command
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	openID string
}

type Option func(*Driver)

func WithTrackers(ts ...tracker.Tracker) Option {
	return func(d *Driver) { d.trackers = append(d.trackers, ts...) }
}

func WithInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

func New(sched Scheduler, opts ...Option) *Driver {
	d := &Driver{
		sched:    sched,
		cmds:     make(chan Command, 16),
		interval: 20 * time.Millisecond,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send queues an operator command for the next frame. It reports false
// when the queue is full and the command was dropped.
func (d *Driver) Send(cmd Command) bool {
	select {
	case d.cmds <- cmd:
		return true
	default:
		d.logger.Warn("operator command dropped", "command", cmd)
		return false
	}
}

// Step runs one frame of dt seconds and reports whether the scheduler has
// finished. It must be called from a single goroutine.
func (d *Driver) Step(dt float64) bool {
	d.syncTrackers()
	d.applyCommands()
	d.sched.Tick(dt)
	d.syncTrackers()

	if d.openID != "" && !d.sched.IsPaused() {
		for _, t := range d.trackers {
			t.Sample(dt)
		}
	}
	return d.sched.Phase() == flow.PhaseFinished
}

// Run steps once per clock tick until the scheduler finishes or ctx ends.
// On cancellation the scheduler is shut down so the open session is closed
// before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	if d.Step(0) {
		d.endTrackers()
		return nil
	}

	clock := NewTickClock()
	clock.Start(d.interval)
	defer func() {
		clock.Stop()
		d.logger.Debug("frame loop stopped", "ticks", clock.Count(), "coalesced", clock.Coalesced())
	}()

	last := d.now()
	for {
		select {
		case <-ctx.Done():
			d.endTrackers()
			if d.sched.Shutdown() {
				d.logger.Info("run cancelled, open session closed")
			}
			return ctx.Err()
		case _, ok := <-clock.Ch:
			if !ok {
				return nil
			}
			now := d.now()
			dt := now.Sub(last).Seconds()
			last = now
			if d.Step(dt) {
				d.endTrackers()
				return nil
			}
		}
	}
}

func (d *Driver) applyCommands() {
	for {
		select {
		case cmd := <-d.cmds:
			var applied bool
			switch cmd {
			case CmdPause:
				applied = d.sched.TogglePause()
			case CmdEnd:
				applied = d.sched.EndTurn(flow.ReasonOperator)
			case CmdNext:
				applied = d.sched.AdvanceParticipant()
			case CmdRestart:
				if err := d.sched.Restart(); err != nil {
					d.logger.Warn("restart rejected", "err", err)
				} else {
					applied = true
				}
			}
			d.logger.Debug("operator command", "command", cmd, "applied", applied)
			if applied {
				d.syncTrackers()
			}
		default:
			return
		}
	}
}

// syncTrackers ends the trackers when the open session changes and begins
// them again for the new one.
func (d *Driver) syncTrackers() {
	sess, ok := d.sched.CurrentSession()
	id := ""
	if ok {
		id = sess.ID
	}
	if id == d.openID {
		return
	}

	d.endTrackers()
	if ok {
		for _, t := range d.trackers {
			t.Begin(sess.Tag())
		}
		d.openID = id
	}
}

func (d *Driver) endTrackers() {
	if d.openID == "" {
		return
	}
	for _, t := range d.trackers {
		t.End()
	}
	d.openID = ""
}
