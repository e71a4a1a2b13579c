package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Sink accepts records for delivery. Emit must not block the caller; a nil
// error means the record was accepted, not that it is stored.
type Sink interface {
	Emit(rec Record) error
}

// ErrorKind classifies sink failures.
type ErrorKind int

const (
	KindNotInitialized ErrorKind = iota + 1
	KindSerialization
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotInitialized:
		return "not_initialized"
	case KindSerialization:
		return "serialization_failure"
	case KindTransport:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// SinkError is returned by sinks and writers.
type SinkError struct {
	Kind ErrorKind
	Err  error
}

func (e *SinkError) Error() string {
	if e.Err == nil {
		return "telemetry: " + e.Kind.String()
	}
	return "telemetry: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

// Is matches any SinkError of the same kind.
func (e *SinkError) Is(target error) bool {
	var t *SinkError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrNotInitialized = &SinkError{Kind: KindNotInitialized}
	ErrSerialization  = &SinkError{Kind: KindSerialization}
	ErrTransport      = &SinkError{Kind: KindTransport}
)

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger used for the not-ready warning.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp records that carry no timestamp.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithNotReadyHandler registers fn to receive the one-shot sink-not-ready
// warning alongside the log line.
func WithNotReadyHandler(fn func(Record)) GuardOption {
	return func(g *Guard) { g.onNotReady = fn }
}

// Guard fronts a possibly missing Sink. Emission failures are logged and
// never propagate into the caller's control flow.
type Guard struct {
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time
	onNotReady func(Record)
	warned     atomic.Bool
	dropped    atomic.Int64
}

func NewGuard(sink Sink, opts ...GuardOption) *Guard {
	g := &Guard{
		sink:   sink,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Emit stamps and forwards rec. The returned error is informational.
func (g *Guard) Emit(rec Record) error {
	if g == nil {
		return ErrNotInitialized
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = g.now().UTC()
	}
	if g.sink == nil {
		g.notReady(rec)
		return ErrNotInitialized
	}
	err := g.sink.Emit(rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotInitialized):
		g.notReady(rec)
	default:
		g.dropped.Add(1)
		g.logger.Warn("telemetry emit failed", "event", rec.EventName, "err", err)
	}
	return err
}

// Dropped reports how many records never reached the sink.
func (g *Guard) Dropped() int64 { return g.dropped.Load() }

func (g *Guard) notReady(rec Record) {
	g.dropped.Add(1)
	if !g.warned.CompareAndSwap(false, true) {
		return
	}
	g.logger.Warn("telemetry sink not ready, dropping records", "first_event", rec.EventName)
	if g.onNotReady != nil {
		g.onNotReady(rec)
	}
}
