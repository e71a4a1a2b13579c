package flow

import (
	"fmt"
	"math"
	"strings"
)

// Config is the immutable per-run schedule.
type Config struct {
	Participants        []string
	GroupID             string
	IndependentVariable string
	TurnDurationSeconds float64
	FlowMode            FlowMode
	EndCondition        EndCondition
	CooldownSeconds     float64
	Profile             map[string]any // copied into session_metadata when non-empty
}

// Validate reports whether cfg would be accepted by Configure.
func (c Config) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize validates c and returns a copy with derived defaults applied.
// It never mutates c.
func (c Config) normalize() (Config, error) {
	if len(c.Participants) == 0 {
		return Config{}, &ConfigError{Field: "participants", Reason: "must not be empty"}
	}
	for i, p := range c.Participants {
		if strings.TrimSpace(p) == "" {
			return Config{}, &ConfigError{Field: fmt.Sprintf("participants[%d]", i), Reason: "must not be blank"}
		}
	}

	switch c.FlowMode {
	case "":
		c.FlowMode = FlowTurns
	case FlowTurns, FlowManual:
	default:
		return Config{}, &ConfigError{Field: "flow_mode", Reason: fmt.Sprintf("unknown mode %q", c.FlowMode)}
	}

	switch c.EndCondition {
	case EndUnset:
		if c.FlowMode == FlowManual {
			c.EndCondition = EndOperatorControl
		} else {
			c.EndCondition = EndTimer
		}
	case EndTimer, EndOperatorControl:
	default:
		return Config{}, &ConfigError{Field: "end_condition", Reason: fmt.Sprintf("unknown condition %q", c.EndCondition)}
	}

	if c.EndCondition == EndTimer && !finitePositive(c.TurnDurationSeconds) {
		return Config{}, &ConfigError{Field: "turn_duration_seconds", Reason: "must be > 0 with a timer end condition"}
	}
	if math.IsNaN(c.CooldownSeconds) || math.IsInf(c.CooldownSeconds, 0) || c.CooldownSeconds < 0 {
		return Config{}, &ConfigError{Field: "cooldown_seconds", Reason: "must be >= 0"}
	}

	c.Participants = append([]string(nil), c.Participants...)
	if len(c.Profile) > 0 {
		profile := make(map[string]any, len(c.Profile))
		for k, v := range c.Profile {
			profile[k] = v
		}
		c.Profile = profile
	}
	return c, nil
}

func finitePositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0)
}

// ReconcileParticipants fits order to count: extra entries are truncated and
// missing ones are generated as U001, U002... from their 1-based position.
func ReconcileParticipants(order []string, count int) []string {
	if count < 0 {
		count = 0
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if i < len(order) {
			out = append(out, order[i])
			continue
		}
		out = append(out, fmt.Sprintf("U%03d", i+1))
	}
	return out
}
