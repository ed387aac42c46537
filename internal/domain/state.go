package domain

// EngineState is the voice engine lifecycle position. Exactly one is active.
type EngineState int

const (
	StateUninitialized EngineState = iota
	StateIdle
	StateWakeArmed
	StateCommandListening
	StateConfirming
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateWakeArmed:
		return "wake_armed"
	case StateCommandListening:
		return "command_listening"
	case StateConfirming:
		return "confirming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
