package orchestration

// TurnState is the per-turn position in the pipeline. It is stored on
// the shared session record so every instance sees the same value.
type TurnState string

const (
	StateIdle        TurnState = "IDLE"
	StateListening   TurnState = "LISTENING"
	StateThinking    TurnState = "THINKING"
	StateSpeaking    TurnState = "SPEAKING"
	StateInterrupted TurnState = "INTERRUPTED"
	StateError       TurnState = "ERROR"
)

// validTransitions encodes the turn lifecycle. INTERRUPTED and ERROR
// are reachable from every non-idle state and both drain back to IDLE
// so the next turn can start.
var validTransitions = map[TurnState][]TurnState{
	StateIdle:        {StateListening},
	StateListening:   {StateThinking, StateInterrupted, StateError},
	StateThinking:    {StateSpeaking, StateInterrupted, StateError},
	StateSpeaking:    {StateIdle, StateInterrupted, StateError},
	StateInterrupted: {StateIdle},
	StateError:       {StateIdle},
}

func (s TurnState) CanTransitionTo(next TurnState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether a turn is in flight. StartTurn is rejected
// with SessionBusyError while this holds.
func (s TurnState) IsActive() bool {
	switch s {
	case StateListening, StateThinking, StateSpeaking, StateInterrupted, StateError:
		return true
	}
	return false
}
