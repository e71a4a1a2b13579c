package flow

import (
	"time"

	"vrflow/internal/telemetry"
)

// Session is one participant's turn.
type Session struct {
	ID            string
	ParticipantID string
	GroupID       string
	Index         int
	StartedAt     time.Time
	EndedAt       time.Time // zero while open
}

func (s Session) Tag() telemetry.SessionTag {
	return telemetry.SessionTag{
		SessionID:     s.ID,
		ParticipantID: s.ParticipantID,
		GroupID:       s.GroupID,
	}
}

// State is a read-only view for displays.
type State struct {
	Phase        Phase
	Paused       bool
	Index        int
	Total        int
	Remaining    float64
	Participant  string
	Next         string
	SessionID    string
	EndCondition EndCondition
}
