// Package config loads the experiment config file that drives a run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	yaml "github.com/goccy/go-yaml"

	"vrflow/internal/flow"
	"vrflow/internal/roles"
)

// Config mirrors the experiment config file. JSON files are valid input too.
type Config struct {
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
	Author      string `yaml:"author" json:"author"`
	LastUpdated string `yaml:"last_updated" json:"last_updated"`

	Session             Session             `yaml:"session" json:"session"`
	Participants        Participants        `yaml:"participants" json:"participants"`
	ParticipantFlow     ParticipantFlow     `yaml:"participant_flow" json:"participant_flow"`
	ExperimentSelection ExperimentSelection `yaml:"experiment_selection" json:"experiment_selection"`
	Modules             Modules             `yaml:"modules" json:"modules"`
	EventRoles          EventRoles          `yaml:"event_roles" json:"event_roles"`
	Profile             map[string]any      `yaml:"profile" json:"profile,omitempty"`

	Mongo   Mongo   `yaml:"mongo" json:"mongo"`
	Sink    Sink    `yaml:"sink" json:"sink"`
	Runtime Runtime `yaml:"runtime" json:"runtime"`
}

type Session struct {
	SessionName         string  `yaml:"session_name" json:"session_name"`
	GroupName           string  `yaml:"group_name" json:"group_name"`
	IndependentVariable string  `yaml:"independent_variable" json:"independent_variable,omitempty"`
	TurnDurationSeconds float64 `yaml:"turn_duration_seconds" json:"turn_duration_seconds"`
	CooldownSeconds     float64 `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

type Participants struct {
	Count      int      `yaml:"count" json:"count"`
	Order      []string `yaml:"order" json:"order"`
	ManualName string   `yaml:"manual_participant_name" json:"manual_participant_name,omitempty"`
}

type ParticipantFlow struct {
	Mode         string     `yaml:"mode" json:"mode"`
	EndCondition string     `yaml:"end_condition" json:"end_condition"`
	GMControls   GMControls `yaml:"gm_controls" json:"gm_controls"`
}

// GMControls are the operator keys. Each key is matched against a whole
// stdin line.
type GMControls struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	NextKey    string `yaml:"next_key" json:"next_key"`
	EndKey     string `yaml:"end_key" json:"end_key"`
	PauseKey   string `yaml:"pause_key" json:"pause_key"`
	RestartKey string `yaml:"restart_key" json:"restart_key"`
}

type ExperimentSelection struct {
	ExperimentID   string `yaml:"experiment_id" json:"experiment_id"`
	FormulaProfile string `yaml:"formula_profile" json:"formula_profile"`
	Description    string `yaml:"description" json:"description"`
}

// Modules are the tracker switches, keyed the way the scene runtime spells them.
type Modules struct {
	UseGazeTracker     bool `yaml:"useGazeTracker" json:"useGazeTracker"`
	UseEyeTracker      bool `yaml:"useEyeTracker" json:"useEyeTracker"`
	UseMovementTracker bool `yaml:"useMovementTracker" json:"useMovementTracker"`
	UseHandTracker     bool `yaml:"useHandTracker" json:"useHandTracker"`
	UseFootTracker     bool `yaml:"useFootTracker" json:"useFootTracker"`
	UseRaycastLogger   bool `yaml:"useRaycastLogger" json:"useRaycastLogger"`
	UseCollisionLogger bool `yaml:"useCollisionLogger" json:"useCollisionLogger"`
	UseHeartbeat       bool `yaml:"useHeartbeat" json:"useHeartbeat"`
}

type EventRoles struct {
	Roles map[string]string `yaml:"roles" json:"roles,omitempty"`
}

type Mongo struct {
	URI        string `yaml:"uri" json:"-" env:"VRFLOW_MONGO_URI"`
	Database   string `yaml:"database" json:"database" env:"VRFLOW_MONGO_DATABASE"`
	Collection string `yaml:"collection" json:"collection" env:"VRFLOW_MONGO_COLLECTION"`
}

type Sink struct {
	QueueSize       int    `yaml:"queue_size" json:"queue_size" env:"VRFLOW_SINK_QUEUE_SIZE"`
	BatchSize       int    `yaml:"batch_size" json:"batch_size" env:"VRFLOW_SINK_BATCH_SIZE"`
	FlushIntervalMS int    `yaml:"flush_interval_ms" json:"flush_interval_ms" env:"VRFLOW_SINK_FLUSH_INTERVAL_MS"`
	RetryMaxTries   uint   `yaml:"retry_max_tries" json:"retry_max_tries" env:"VRFLOW_SINK_RETRY_MAX_TRIES"`
	CSVPath         string `yaml:"csv_path" json:"csv_path,omitempty" env:"VRFLOW_SINK_CSV_PATH"`
	Console         bool   `yaml:"console" json:"console" env:"VRFLOW_SINK_CONSOLE"`
}

type Runtime struct {
	TickMS           int     `yaml:"tick_ms" json:"tick_ms" env:"VRFLOW_TICK_MS"`
	HeartbeatSeconds float64 `yaml:"heartbeat_seconds" json:"heartbeat_seconds" env:"VRFLOW_HEARTBEAT_SECONDS"`
}

// Default is the config used when no file is given.
func Default() Config {
	return Config{
		Version: "1.0",
		Session: Session{
			SessionName:         "Dia_1",
			GroupName:           "Grupo_A",
			TurnDurationSeconds: 60,
		},
		Participants: Participants{
			Count: 4,
			Order: []string{"U001", "U002", "U003", "U004"},
		},
		ParticipantFlow: ParticipantFlow{
			Mode:         string(flow.FlowTurns),
			EndCondition: string(flow.EndTimer),
			GMControls: GMControls{
				Enabled:    true,
				NextKey:    "n",
				EndKey:     "e",
				PauseKey:   "p",
				RestartKey: "r",
			},
		},
		ExperimentSelection: ExperimentSelection{
			ExperimentID:   "shooting_basic",
			FormulaProfile: "default",
		},
		Mongo: Mongo{
			URI:        "mongodb://localhost:27017",
			Database:   "test",
			Collection: "tfg",
		},
		Sink: Sink{
			QueueSize:       4096,
			BatchSize:       64,
			FlushIntervalMS: 250,
			RetryMaxTries:   5,
		},
		Runtime: Runtime{
			TickMS:           20,
			HeartbeatSeconds: 10,
		},
	}
}

// Load reads the file at path over the defaults; an empty path means
// defaults only. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays VRFLOW_* variables. Unset variables leave the field alone.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the fields the schedule and sink depend on.
func (c Config) Validate() error {
	var errs []error
	if c.Participants.Count < 0 {
		errs = append(errs, errors.New("participants.count must be >= 0"))
	}
	if c.Runtime.TickMS <= 0 {
		errs = append(errs, errors.New("runtime.tick_ms must be > 0"))
	}
	if c.Sink.QueueSize < 0 || c.Sink.BatchSize < 0 || c.Sink.FlushIntervalMS < 0 {
		errs = append(errs, errors.New("sink sizes and intervals must be >= 0"))
	}
	if c.Mongo.Database == "" || c.Mongo.Collection == "" {
		errs = append(errs, errors.New("mongo.database and mongo.collection are required"))
	}
	if gm := c.ParticipantFlow.GMControls; gm.Enabled {
		keys := map[string]bool{}
		for _, k := range []string{gm.NextKey, gm.EndKey, gm.PauseKey, gm.RestartKey} {
			if k == "" {
				errs = append(errs, errors.New("gm_controls keys must not be empty"))
				break
			}
			if keys[k] {
				errs = append(errs, fmt.Errorf("gm_controls key %q bound twice", k))
			}
			keys[k] = true
		}
	}
	if _, err := c.Roles(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		if s, err := c.Schedule(); err != nil {
			errs = append(errs, err)
		} else if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Schedule builds the scheduler config. A manual participant name replaces
// the order; otherwise the order is fitted to count.
func (c Config) Schedule() (flow.Config, error) {
	var participants []string
	switch {
	case strings.TrimSpace(c.Participants.ManualName) != "":
		participants = []string{strings.TrimSpace(c.Participants.ManualName)}
	case c.Participants.Count > 0:
		participants = flow.ReconcileParticipants(c.Participants.Order, c.Participants.Count)
	default:
		participants = append([]string(nil), c.Participants.Order...)
	}

	end, err := endCondition(c.ParticipantFlow.EndCondition)
	if err != nil {
		return flow.Config{}, err
	}

	var profile map[string]any
	if len(c.Profile) > 0 {
		profile = make(map[string]any, len(c.Profile))
		for k, v := range c.Profile {
			profile[k] = v
		}
	}

	return flow.Config{
		Participants:        participants,
		GroupID:             c.Session.GroupName,
		IndependentVariable: c.Session.IndependentVariable,
		TurnDurationSeconds: c.Session.TurnDurationSeconds,
		FlowMode:            flow.FlowMode(strings.ToLower(c.ParticipantFlow.Mode)),
		EndCondition:        end,
		CooldownSeconds:     c.Session.CooldownSeconds,
		Profile:             profile,
	}, nil
}

// "gm" is what older config files use for operator control.
func endCondition(s string) (flow.EndCondition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return flow.EndUnset, nil
	case "timer":
		return flow.EndTimer, nil
	case "gm", "operator", "operator_control":
		return flow.EndOperatorControl, nil
	default:
		return "", &flow.ConfigError{Field: "end_condition", Reason: fmt.Sprintf("unknown condition %q", s)}
	}
}

// EnabledModules lists the tracker capabilities switched on, in a fixed order.
func (c Config) EnabledModules() []string {
	m := c.Modules
	var out []string
	for _, mod := range []struct {
		on   bool
		name string
	}{
		{m.UseCollisionLogger, "collision"},
		{m.UseEyeTracker, "eye"},
		{m.UseFootTracker, "foot"},
		{m.UseGazeTracker, "gaze"},
		{m.UseHandTracker, "hand"},
		{m.UseHeartbeat, "heartbeat"},
		{m.UseMovementTracker, "movement"},
		{m.UseRaycastLogger, "raycast"},
	} {
		if mod.on {
			out = append(out, mod.name)
		}
	}
	return out
}

// Roles resolves event_roles over the built-in bindings.
func (c Config) Roles() (*roles.Registry, error) {
	return roles.New(c.EventRoles.Roles)
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Runtime.TickMS) * time.Millisecond
}
