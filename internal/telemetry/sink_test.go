package telemetry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrflow/internal/telemetry"
)

type captureSink struct {
	records []telemetry.Record
	err     error
}

func (c *captureSink) Emit(rec telemetry.Record) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, rec)
	return nil
}

type fixedSource struct {
	tag telemetry.SessionTag
	ok  bool
}

func (f fixedSource) ActiveSession() (telemetry.SessionTag, bool) { return f.tag, f.ok }

func TestSinkError_Is(t *testing.T) {
	err := &telemetry.SinkError{Kind: telemetry.KindTransport, Err: errors.New("timeout")}

	assert.ErrorIs(t, err, telemetry.ErrTransport)
	assert.NotErrorIs(t, err, telemetry.ErrSerialization)
	assert.Contains(t, err.Error(), "transport_failure: timeout")

	wrapped := errors.Join(errors.New("other"), err)
	assert.ErrorIs(t, wrapped, telemetry.ErrTransport)
}

func TestGuard_NilSinkWarnsOnce(t *testing.T) {
	var warnings []string
	g := telemetry.NewGuard(nil, telemetry.WithNotReadyHandler(func(rec telemetry.Record) {
		warnings = append(warnings, rec.EventName)
	}))

	for _, name := range []string{"session_start", "target_hit", "session_end"} {
		err := g.Emit(telemetry.NewRecord(telemetry.TypeSession, name, nil, nil))
		assert.ErrorIs(t, err, telemetry.ErrNotInitialized)
	}

	assert.Equal(t, []string{"session_start"}, warnings)
	assert.Equal(t, int64(3), g.Dropped())
}

func TestGuard_TypedNilQueueCountsAsNotReady(t *testing.T) {
	var q *telemetry.Queue
	warned := 0
	g := telemetry.NewGuard(q, telemetry.WithNotReadyHandler(func(telemetry.Record) { warned++ }))

	_ = g.Emit(telemetry.NewRecord(telemetry.TypeSystem, "a", nil, nil))
	_ = g.Emit(telemetry.NewRecord(telemetry.TypeSystem, "b", nil, nil))
	assert.Equal(t, 1, warned)
}

func TestGuard_Timestamps(t *testing.T) {
	clockTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	setTime := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	sink := &captureSink{}
	g := telemetry.NewGuard(sink, telemetry.WithClock(func() time.Time { return clockTime }))

	require.NoError(t, g.Emit(telemetry.NewRecord(telemetry.TypeTask, "stamped", nil, nil)))
	preset := telemetry.NewRecord(telemetry.TypeTask, "preset", nil, nil)
	preset.Timestamp = setTime
	require.NoError(t, g.Emit(preset))

	require.Len(t, sink.records, 2)
	assert.Equal(t, clockTime, sink.records[0].Timestamp)
	assert.Equal(t, setTime, sink.records[1].Timestamp)
}

func TestGuard_SinkErrorsDoNotPanic(t *testing.T) {
	sink := &captureSink{err: &telemetry.SinkError{Kind: telemetry.KindTransport}}
	g := telemetry.NewGuard(sink)

	err := g.Emit(telemetry.NewRecord(telemetry.TypeTask, "x", nil, nil))
	assert.ErrorIs(t, err, telemetry.ErrTransport)
	assert.Equal(t, int64(1), g.Dropped())
}

func TestSessionEmitter(t *testing.T) {
	t.Run("tags the active session", func(t *testing.T) {
		sink := &captureSink{}
		src := fixedSource{tag: telemetry.SessionTag{SessionID: "s-1", ParticipantID: "U001", GroupID: "g"}, ok: true}
		em := telemetry.NewSessionEmitter(sink, src)

		require.NoError(t, em.Emit(telemetry.TypeGaze, "gaze_sustained", nil, map[string]any{"target": "door"}))
		require.Len(t, sink.records, 1)
		rec := sink.records[0]
		require.NotNil(t, rec.SessionID)
		assert.Equal(t, "s-1", *rec.SessionID)
		assert.Equal(t, "U001", rec.ParticipantID)
		assert.True(t, rec.Persist)
	})

	t.Run("leaves session nil without one", func(t *testing.T) {
		sink := &captureSink{}
		em := telemetry.NewSessionEmitter(sink, fixedSource{})

		require.NoError(t, em.Emit(telemetry.TypeSystem, "heartbeat", 1, nil))
		assert.Nil(t, sink.records[0].SessionID)
	})

	t.Run("nil sink", func(t *testing.T) {
		em := telemetry.NewSessionEmitter(nil, fixedSource{})
		assert.ErrorIs(t, em.Emit(telemetry.TypeSystem, "x", nil, nil), telemetry.ErrNotInitialized)
	})
}

func TestDryRun(t *testing.T) {
	sink := &captureSink{}
	require.NoError(t, telemetry.DryRun(sink).Emit(telemetry.NewRecord(telemetry.TypeTask, "x", nil, nil)))
	assert.False(t, sink.records[0].Persist)
}
