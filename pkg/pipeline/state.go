package pipeline

// State is a step of a pipeline run.
type State string

const (
	StateIdle         State = "idle"
	StateFileSelected State = "file_selected"
	StateAwaitingGate State = "awaiting_gate"
	StateExtracting   State = "extracting"
	StateTranslating  State = "translating"
	StateRebuilding   State = "rebuilding"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// transitions lists the states reachable from each state. Error is added
// for every non-terminal state below.
var transitions = map[State][]State{
	StateIdle:         {StateFileSelected},
	StateFileSelected: {StateFileSelected, StateAwaitingGate, StateIdle},
	StateAwaitingGate: {StateExtracting},
	StateExtracting:   {StateTranslating},
	StateTranslating:  {StateRebuilding},
	StateRebuilding:   {StateCompleted},
	StateCompleted:    {StateIdle},
	StateError:        {StateIdle},
}

// Terminal reports whether the run has finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// InFlight reports whether the run is executing and cannot be reset.
func (s State) InFlight() bool {
	switch s {
	case StateAwaitingGate, StateExtracting, StateTranslating, StateRebuilding:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if to == StateError {
		return !from.Terminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
