package playback

// State is the playback lifecycle state.
type State int

const (
	// StateIdle indicates nothing is queued and no cursor is held.
	StateIdle State = iota
	// StatePlaying indicates sentences are being voiced in order.
	StatePlaying
	// StatePaused indicates playback is suspended with the cursor held.
	StatePaused
	// StateSeeking indicates the cursor is moving and output is stopped.
	StateSeeking
)

// String returns the state as a short lowercase label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSeeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// Machine validates state transitions. Seeking is a transient state: every
// seek passes through it and settles in Playing or Paused, except when the
// document ends underneath the seek.
type Machine struct {
	current     State
	transitions map[State][]State
}

// NewMachine returns a machine starting in StateIdle.
func NewMachine() *Machine {
	return &Machine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:    {StatePlaying, StateSeeking},
			StatePlaying: {StatePaused, StateSeeking, StateIdle},
			StatePaused:  {StatePlaying, StateSeeking, StateIdle},
			StateSeeking: {StatePlaying, StatePaused, StateIdle},
		},
	}
}

// Transition moves to the given state and reports whether the move was
// legal. An illegal transition leaves the machine unchanged.
func (m *Machine) Transition(to State) bool {
	for _, allowed := range m.transitions[m.current] {
		if allowed == to {
			m.current = to
			return true
		}
	}
	return false
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}
