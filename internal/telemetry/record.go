package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the coarse category of a record.
type EventType string

const (
	TypeTask        EventType = "task"
	TypeNavigation  EventType = "navigation"
	TypeInteraction EventType = "interaction"
	TypeSystem      EventType = "system"
	TypeGaze        EventType = "gaze"
	TypeError       EventType = "error"
	TypeConfig      EventType = "config"
	TypeSession     EventType = "session"
)

// Record is the unit handed to a Sink. Records built with NewRecord persist
// by default; set Persist to false to validate a payload without storing it.
type Record struct {
	Timestamp     time.Time
	SessionID     *string // nil before any session exists (config snapshot)
	ParticipantID string
	GroupID       string
	EventType     EventType
	EventName     string
	EventValue    any // nil, string or a number
	EventContext  map[string]any
	Persist       bool
}

// NewRecord builds a persisted record. The timestamp is left zero so the
// emitting Guard can stamp it from its clock.
func NewRecord(eventType EventType, name string, value any, ctx map[string]any) Record {
	return Record{
		EventType:    eventType,
		EventName:    name,
		EventValue:   value,
		EventContext: ctx,
		Persist:      true,
	}
}

// SessionTag carries the identifiers a record is tagged with.
type SessionTag struct {
	SessionID     string
	ParticipantID string
	GroupID       string
}

// WithSession returns a copy of r tagged with the given session.
func (r Record) WithSession(tag SessionTag) Record {
	id := tag.SessionID
	r.SessionID = &id
	r.ParticipantID = tag.ParticipantID
	r.GroupID = tag.GroupID
	return r
}

func (r Record) String() string {
	sid := "-"
	if r.SessionID != nil {
		sid = *r.SessionID
	}
	return fmt.Sprintf("%s/%s session=%s", r.EventType, r.EventName, sid)
}

// ConfigSnapshot builds the config/experiment_config record that precedes
// any session. v is flattened through its JSON form into the context.
func ConfigSnapshot(v any, now time.Time) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, &SinkError{Kind: KindSerialization, Err: fmt.Errorf("marshal config: %w", err)}
	}
	var ctx map[string]any
	if err := json.Unmarshal(data, &ctx); err != nil {
		return Record{}, &SinkError{Kind: KindSerialization, Err: fmt.Errorf("config is not an object: %w", err)}
	}
	rec := NewRecord(TypeConfig, "experiment_config", nil, ctx)
	rec.Timestamp = now.UTC()
	return rec, nil
}
