package session

import "fmt"

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateLoggingIn, StateClosing, StateDisconnected},
	StateLoggingIn:    {StateConnected, StateClosing, StateDisconnected},
	StateConnected:    {StateClosing, StateDisconnected},
	StateClosing:      {StateDisconnected},
}

// CanTransition reports whether from -> to is a legal move. Staying in the
// same state is always legal.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange is the payload of events.EventStateChange.
type StateChange struct {
	From State
	To   State
}

// CloseEvent is the payload of events.EventClose.
type CloseEvent struct {
	Code        int
	Reason      string
	Unexpected  bool
	DuringLogin bool
	Err         error

	// Principal is who the closed connection was logged in as.
	Principal Principal
}
