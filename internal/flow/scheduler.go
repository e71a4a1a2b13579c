// internal/flow/scheduler.go

package flow

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrflow/internal/telemetry"
)

// Scheduler rotates participants through turns. It owns no goroutines or
// timers: time only advances through Tick, driven by the caller's frame loop.
// Commands are safe from any goroutine; the records of one command reach the
// sink before those of the next.
type Scheduler struct {
	emitMu     sync.Mutex // held by commands from state change through emission
	mu         sync.Mutex // protects everything below
	cfg        Config
	configured bool
	phase      Phase
	paused     bool
	index      int      // position in cfg.Participants; == len means exhausted
	remaining  float64  // countdown seconds, Running/Cooldown under a timer
	session    *Session // the open session, nil outside Running

	target telemetry.Sink
	sink   *telemetry.Guard
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSink sets where session and transition records go. Without it every
// record is dropped and a single not-ready warning is logged.
func WithSink(sink telemetry.Sink) Option {
	return func(s *Scheduler) { s.target = sink }
}

// WithGuard uses a pre-built guard, e.g. one with a not-ready handler.
func WithGuard(g *telemetry.Guard) Option {
	return func(s *Scheduler) { s.sink = g }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the wall clock used for session and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides session id generation (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates an Idle scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = telemetry.NewGuard(s.target, telemetry.WithLogger(s.logger), telemetry.WithClock(s.now))
	}
	return s
}

// Configure validates cfg and stores it for the next run. Nothing changes
// when cfg is rejected, and a run in progress cannot be reconfigured.
func (s *Scheduler) Configure(cfg Config) error {
	normalized, err := cfg.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.timed() {
		return ErrRunInProgress
	}
	s.cfg = normalized
	s.configured = true
	s.index = 0
	s.phase = PhaseIdle
	s.logger.Info("schedule configured",
		"participants", len(normalized.Participants),
		"flow_mode", normalized.FlowMode,
		"end_condition", normalized.EndCondition,
		"turn_duration_s", normalized.TurnDurationSeconds,
		"cooldown_s", normalized.CooldownSeconds,
	)
	return nil
}

// Start opens the first participant's session. Only valid from Idle.
func (s *Scheduler) Start() error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	var out []telemetry.Record
	err := s.begin(&out)
	s.mu.Unlock()

	s.emit(out)
	return err
}

// Restart force-closes any open session and starts again from the first
// participant using the stored configuration.
func (s *Scheduler) Restart() error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	var out []telemetry.Record
	if s.session != nil {
		s.closeSession(ReasonRestart, &out)
	}
	s.phase = PhaseIdle
	s.paused = false
	s.remaining = 0
	err := s.begin(&out)
	s.mu.Unlock()

	s.emit(out)
	return err
}

// Tick advances the countdown by delta seconds and performs at most one
// transition when it reaches zero. Overshoot is discarded. It reports
// whether a transition happened.
func (s *Scheduler) Tick(delta float64) bool {
	if !(delta > 0) {
		return false
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.paused || !s.phase.timed() || s.cfg.EndCondition != EndTimer {
		s.mu.Unlock()
		return false
	}

	s.remaining -= delta
	if s.remaining > 0 {
		s.mu.Unlock()
		return false
	}
	s.remaining = 0

	var out []telemetry.Record
	switch s.phase {
	case PhaseRunning:
		s.logger.Info("turn time finished", "participant", s.session.ParticipantID)
		s.endTurn(ReasonTimer, &out)
	case PhaseCooldown:
		s.openSession(&out)
	}
	s.mu.Unlock()

	s.emit(out)
	return true
}

// TogglePause flips the pause bit. It returns false, changing nothing, when
// no turn or cooldown is underway.
func (s *Scheduler) TogglePause() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.phase.timed() {
		s.mu.Unlock()
		return false
	}
	s.paused = !s.paused

	name := "turn_resumed"
	if s.paused {
		name = "turn_paused"
	}
	out := []telemetry.Record{s.record(telemetry.TypeSystem, name, nil, map[string]any{
		"phase":       s.phase.String(),
		"remaining_s": s.remaining,
	})}
	s.logger.Info(name, "phase", s.phase, "remaining_s", s.remaining)
	s.mu.Unlock()

	s.emit(out)
	return true
}

// EndTurn ends the running turn now, or cuts a cooldown short. It is a
// no-op while paused or outside Running/Cooldown.
func (s *Scheduler) EndTurn(reason EndReason) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.paused || !s.phase.timed() {
		s.mu.Unlock()
		return false
	}

	var out []telemetry.Record
	switch s.phase {
	case PhaseRunning:
		s.endTurn(reason, &out)
	case PhaseCooldown:
		s.logger.Info("cooldown skipped", "remaining_s", s.remaining)
		s.openSession(&out)
	}
	s.mu.Unlock()

	s.emit(out)
	return true
}

// Shutdown stops the run early: an open session is closed with reason
// shutdown and the scheduler moves to Finished. It returns false when no
// turn or cooldown is underway.
func (s *Scheduler) Shutdown() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.phase.timed() {
		s.mu.Unlock()
		return false
	}
	var out []telemetry.Record
	if s.session != nil {
		s.closeSession(ReasonShutdown, &out)
	}
	s.phase = PhaseFinished
	s.paused = false
	s.remaining = 0
	out = append(out, s.record(telemetry.TypeSystem, "experiment_stopped", nil, map[string]any{
		"turn_index": s.index,
		"turn_count": len(s.cfg.Participants),
		"group_id":   s.cfg.GroupID,
	}))
	s.logger.Info("run stopped early", "turn", s.index+1, "of", len(s.cfg.Participants))
	s.mu.Unlock()

	s.emit(out)
	return true
}

// AdvanceParticipant is the operator shortcut for EndTurn(ReasonOperator).
func (s *Scheduler) AdvanceParticipant() bool {
	return s.EndTurn(ReasonOperator)
}

// ResizeParticipants truncates or pads the configured order to count
// between runs.
func (s *Scheduler) ResizeParticipants(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.timed() {
		return ErrRunInProgress
	}
	if !s.configured {
		return &ConfigError{Field: "participants", Reason: "scheduler is not configured"}
	}
	if count <= 0 {
		return &ConfigError{Field: "participants.count", Reason: "must be > 0"}
	}
	s.cfg.Participants = ReconcileParticipants(s.cfg.Participants, count)
	return nil
}

func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// TimeRemaining is the countdown of the current turn or cooldown, or 0 when
// no timer applies.
func (s *Scheduler) TimeRemaining() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.timed() || s.cfg.EndCondition != EndTimer {
		return 0
	}
	return s.remaining
}

// CurrentParticipant is the participant whose session is open.
func (s *Scheduler) CurrentParticipant() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", false
	}
	return s.session.ParticipantID, true
}

// NextParticipant is the participant whose session opens next, if any.
func (s *Scheduler) NextParticipant() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

// CurrentSession returns a copy of the open session.
func (s *Scheduler) CurrentSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *Scheduler) CurrentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.ID
}

// ActiveSession implements telemetry.SessionSource.
func (s *Scheduler) ActiveSession() (telemetry.SessionTag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return telemetry.SessionTag{}, false
	}
	return s.session.Tag(), true
}

func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Phase:        s.phase,
		Paused:       s.paused,
		Index:        s.index,
		Total:        len(s.cfg.Participants),
		EndCondition: s.cfg.EndCondition,
	}
	if s.phase.timed() && s.cfg.EndCondition == EndTimer {
		st.Remaining = s.remaining
	}
	if s.session != nil {
		st.Participant = s.session.ParticipantID
		st.SessionID = s.session.ID
	}
	st.Next, _ = s.nextLocked()
	return st
}

func (s *Scheduler) nextLocked() (string, bool) {
	var i int
	switch s.phase {
	case PhaseIdle:
		i = 0
	case PhaseRunning:
		i = s.index + 1
	case PhaseCooldown:
		i = s.index
	default:
		return "", false
	}
	if i >= len(s.cfg.Participants) {
		return "", false
	}
	return s.cfg.Participants[i], true
}

// begin starts a run from the first participant. Caller holds mu.
func (s *Scheduler) begin(out *[]telemetry.Record) error {
	s.index = 0
	s.paused = false
	if !s.configured || len(s.cfg.Participants) == 0 {
		s.phase = PhaseFinished
		s.logger.Warn("run started with an empty schedule")
		return ErrEmptySchedule
	}
	s.openSession(out)
	return nil
}

// endTurn closes the open session and moves to the next phase. Caller
// holds mu and phase is Running.
func (s *Scheduler) endTurn(reason EndReason, out *[]telemetry.Record) {
	s.closeSession(reason, out)
	s.index++

	switch {
	case s.index >= len(s.cfg.Participants):
		s.finish(out)
	case s.cfg.EndCondition == EndTimer && s.cfg.CooldownSeconds > 0:
		s.phase = PhaseCooldown
		s.remaining = s.cfg.CooldownSeconds
		s.logger.Info("cooldown started", "seconds", s.remaining, "next", s.cfg.Participants[s.index])
	default:
		s.openSession(out)
	}
}

func (s *Scheduler) openSession(out *[]telemetry.Record) {
	participant := s.cfg.Participants[s.index]
	s.session = &Session{
		ID:            s.newID(),
		ParticipantID: participant,
		GroupID:       s.cfg.GroupID,
		Index:         s.index,
		StartedAt:     s.now().UTC(),
	}
	s.phase = PhaseRunning
	s.remaining = 0
	if s.cfg.EndCondition == EndTimer {
		s.remaining = s.cfg.TurnDurationSeconds
	}

	ctx := map[string]any{
		"session_id":     s.session.ID,
		"participant_id": participant,
		"group_id":       s.cfg.GroupID,
		"turn_index":     s.index,
		"turn_count":     len(s.cfg.Participants),
	}
	if s.cfg.IndependentVariable != "" {
		ctx["independent_variable"] = s.cfg.IndependentVariable
	}
	*out = append(*out, s.record(telemetry.TypeSession, "session_start", nil, ctx))
	if len(s.cfg.Profile) > 0 {
		*out = append(*out, s.record(telemetry.TypeSession, "session_metadata", nil, map[string]any{
			"session_id": s.session.ID,
			"profile":    s.cfg.Profile,
		}))
	}

	s.logger.Info("participant started",
		"participant", participant,
		"turn", s.index+1,
		"of", len(s.cfg.Participants),
		"session_id", s.session.ID,
	)
}

func (s *Scheduler) closeSession(reason EndReason, out *[]telemetry.Record) {
	sess := s.session
	sess.EndedAt = s.now().UTC()
	duration := sess.EndedAt.Sub(sess.StartedAt).Seconds()

	*out = append(*out, s.record(telemetry.TypeSession, "session_end", nil, map[string]any{
		"session_id": sess.ID,
		"reason":     string(reason),
		"duration_s": math.Max(duration, 0),
	}))
	s.session = nil
	s.paused = false
	s.logger.Info("participant ended", "participant", sess.ParticipantID, "reason", reason, "session_id", sess.ID)
}

func (s *Scheduler) finish(out *[]telemetry.Record) {
	s.phase = PhaseFinished
	s.paused = false
	s.remaining = 0
	*out = append(*out, s.record(telemetry.TypeSystem, "experiment_finished", nil, map[string]any{
		"turn_count": len(s.cfg.Participants),
		"group_id":   s.cfg.GroupID,
	}))
	s.logger.Info("all participants completed")
}

// record builds a record tagged with the open session, if any. Caller holds mu.
func (s *Scheduler) record(eventType telemetry.EventType, name string, value any, ctx map[string]any) telemetry.Record {
	rec := telemetry.NewRecord(eventType, name, value, ctx)
	rec.Timestamp = s.now().UTC()
	if s.session != nil {
		rec = rec.WithSession(s.session.Tag())
	}
	return rec
}

// emit forwards records collected under mu. Called after unlocking mu so a
// sink that queries the scheduler cannot deadlock; emitMu keeps batches from
// concurrent commands in order.
func (s *Scheduler) emit(out []telemetry.Record) {
	for _, rec := range out {
		_ = s.sink.Emit(rec)
	}
}
