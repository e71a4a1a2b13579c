package flow

// Phase is the scheduler's position in the turn cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCooldown
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseRunning:
		return "Running"
	case PhaseCooldown:
		return "Cooldown"
	case PhaseFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// timed reports whether the countdown and pause bit apply.
func (p Phase) timed() bool {
	return p == PhaseRunning || p == PhaseCooldown
}

// FlowMode selects how participants are rotated.
type FlowMode string

const (
	FlowTurns  FlowMode = "turns"
	FlowManual FlowMode = "manual"
)

// EndCondition decides what ends a turn. The zero value means unset and is
// resolved from the flow mode by Configure.
type EndCondition string

const (
	EndUnset           EndCondition = ""
	EndTimer           EndCondition = "timer"
	EndOperatorControl EndCondition = "operator_control"
)

// EndReason is recorded on session_end.
type EndReason string

const (
	ReasonTimer    EndReason = "timer"
	ReasonOperator EndReason = "operator"
	ReasonRestart  EndReason = "restart"
	ReasonShutdown EndReason = "shutdown"
)
