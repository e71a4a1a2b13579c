package telemetry

// SessionSource exposes the session currently open, if any.
type SessionSource interface {
	ActiveSession() (SessionTag, bool)
}

// SessionEmitter is what trackers use: it tags every record with the
// session, participant and group the source owns at emission time.
type SessionEmitter struct {
	sink   Sink
	source SessionSource
}

func NewSessionEmitter(sink Sink, source SessionSource) *SessionEmitter {
	return &SessionEmitter{sink: sink, source: source}
}

func (e *SessionEmitter) Emit(eventType EventType, name string, value any, ctx map[string]any) error {
	return e.EmitRecord(NewRecord(eventType, name, value, ctx))
}

// EmitRecord tags rec unless it already carries a session id.
func (e *SessionEmitter) EmitRecord(rec Record) error {
	if e == nil || e.sink == nil {
		return ErrNotInitialized
	}
	if rec.SessionID == nil && e.source != nil {
		if tag, ok := e.source.ActiveSession(); ok {
			rec = rec.WithSession(tag)
		}
	}
	return e.sink.Emit(rec)
}

type dryRun struct{ next Sink }

// DryRun marks every record as not persisted before handing it to next, so
// payloads are validated end to end without touching storage.
func DryRun(next Sink) Sink {
	return dryRun{next: next}
}

func (d dryRun) Emit(rec Record) error {
	if d.next == nil {
		return ErrNotInitialized
	}
	rec.Persist = false
	return d.next.Emit(rec)
}
