package tracker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrflow/internal/telemetry"
	"vrflow/internal/tracker"
)

type emitted struct {
	name  string
	value any
}

type fakeEmitter struct {
	events []emitted
}

func (f *fakeEmitter) Emit(_ telemetry.EventType, name string, value any, _ map[string]any) error {
	f.events = append(f.events, emitted{name: name, value: value})
	return nil
}

type stub struct{ name string }

func (s stub) Name() string               { return s.name }
func (s stub) Begin(telemetry.SessionTag) {}
func (s stub) Sample(float64)             {}
func (s stub) End()                       {}

func stubFactory(name string) tracker.Factory {
	return func(tracker.Emitter) tracker.Tracker { return stub{name: name} }
}

func TestRegistry(t *testing.T) {
	r := tracker.NewRegistry()
	require.NoError(t, r.Register("movement", stubFactory("movement")))
	require.NoError(t, r.Register("gaze", stubFactory("gaze")))

	t.Run("duplicate", func(t *testing.T) {
		assert.Error(t, r.Register("gaze", stubFactory("gaze")))
	})

	t.Run("invalid", func(t *testing.T) {
		assert.Error(t, r.Register("", stubFactory("x")))
		assert.Error(t, r.Register("x", nil))
	})

	t.Run("names are ordered", func(t *testing.T) {
		assert.Equal(t, []string{"gaze", "movement"}, r.Names())
		assert.True(t, r.Has("gaze"))
		assert.False(t, r.Has("hand"))
	})

	t.Run("build dedupes and orders", func(t *testing.T) {
		trackers, err := r.Build([]string{"movement", "gaze", "movement"}, &fakeEmitter{})
		require.NoError(t, err)
		require.Len(t, trackers, 2)
		assert.Equal(t, "gaze", trackers[0].Name())
		assert.Equal(t, "movement", trackers[1].Name())
	})

	t.Run("build rejects unknown capability", func(t *testing.T) {
		_, err := r.Build([]string{"gaze", "foot"}, &fakeEmitter{})
		assert.ErrorContains(t, err, `"foot"`)
	})
}

func TestHeartbeat(t *testing.T) {
	em := &fakeEmitter{}
	hb := tracker.HeartbeatFactory(2)(em)
	assert.Equal(t, tracker.HeartbeatName, hb.Name())

	hb.Sample(5)
	assert.Empty(t, em.events, "no beats before Begin")

	hb.Begin(telemetry.SessionTag{SessionID: "s"})
	for i := 0; i < 8; i++ {
		hb.Sample(0.5)
	}
	require.Len(t, em.events, 2)
	assert.Equal(t, "heartbeat", em.events[0].name)
	assert.Equal(t, 2, em.events[1].value)

	hb.End()
	hb.Sample(10)
	assert.Len(t, em.events, 2)
}
