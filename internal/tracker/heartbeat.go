package tracker

import "vrflow/internal/telemetry"

const HeartbeatName = "heartbeat"

// Heartbeat emits system/heartbeat every interval seconds of unpaused
// session time. It lets a run without scene trackers still show liveness.
type Heartbeat struct {
	em       Emitter
	interval float64
	elapsed  float64
	since    float64
	beats    int
	active   bool
}

// HeartbeatFactory returns a Factory for heartbeats every interval seconds.
func HeartbeatFactory(interval float64) Factory {
	if interval <= 0 {
		interval = 10
	}
	return func(em Emitter) Tracker {
		return &Heartbeat{em: em, interval: interval}
	}
}

func (h *Heartbeat) Name() string { return HeartbeatName }

func (h *Heartbeat) Begin(telemetry.SessionTag) {
	h.active = true
	h.elapsed = 0
	h.since = 0
	h.beats = 0
}

func (h *Heartbeat) Sample(dt float64) {
	if !h.active || dt <= 0 {
		return
	}
	h.elapsed += dt
	h.since += dt
	if h.since < h.interval {
		return
	}
	h.since = 0
	h.beats++
	_ = h.em.Emit(telemetry.TypeSystem, "heartbeat", h.beats, map[string]any{
		"elapsed_s": h.elapsed,
	})
}

func (h *Heartbeat) End() {
	h.active = false
}
