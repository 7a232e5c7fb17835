package deltaconn

import "fmt"

// ConnectionState represents the current state of the connection to the backend.
type ConnectionState int

const (
	// StateInitial means no connection attempt has been made yet.
	StateInitial ConnectionState = iota

	// StateInitialConnecting means the first connection attempt is in progress.
	StateInitialConnecting

	// StateReconnecting means a connection attempt after a disconnect is in progress.
	StateReconnecting

	// StateConnected means a transport is open and frames are flowing.
	StateConnected

	// StateDisconnected means the transport went away and a retry is pending.
	StateDisconnected

	// StateError means retries were exhausted. Only Reconnect leaves it.
	StateError

	// StateStatic means the session is served from static storage, not a transport.
	StateStatic
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateInitialConnecting:
		return "initial_connecting"
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	case StateStatic:
		return "static"
	default:
		return "unknown"
	}
}

// Connecting reports whether a transport open is in flight.
func (s ConnectionState) Connecting() bool {
	return s == StateInitialConnecting || s == StateReconnecting
}

// Event is an input to the connection state machine.
type Event int

const (
	EventAttemptStarted Event = iota
	EventOpened
	EventClosed
	EventError
	EventTimedOut
	EventRetriesExhausted
	EventStaticMode
)

// String returns the string representation of an Event.
func (e Event) String() string {
	switch e {
	case EventAttemptStarted:
		return "attempt_started"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventTimedOut:
		return "timed_out"
	case EventRetriesExhausted:
		return "retries_exhausted"
	case EventStaticMode:
		return "static_mode"
	default:
		return fmt.Sprintf("event_%d", int(e))
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Message  string // set when NewState is StateError
}

// Transition returns the state that follows s on e. Pairs without a defined
// transition return an ErrorIllegalTransition error and s unchanged.
func Transition(s ConnectionState, e Event) (ConnectionState, error) {
	switch s {
	case StateInitial:
		switch e {
		case EventAttemptStarted:
			return StateInitialConnecting, nil
		case EventStaticMode:
			return StateStatic, nil
		}
	case StateDisconnected, StateError:
		switch e {
		case EventAttemptStarted:
			return StateReconnecting, nil
		case EventClosed:
			return s, nil
		case EventRetriesExhausted:
			if s == StateDisconnected {
				return StateError, nil
			}
		}
	case StateInitialConnecting, StateReconnecting:
		switch e {
		case EventOpened:
			return StateConnected, nil
		case EventTimedOut, EventError, EventClosed:
			return StateDisconnected, nil
		case EventRetriesExhausted:
			return StateError, nil
		}
	case StateConnected:
		switch e {
		case EventClosed, EventError:
			return StateDisconnected, nil
		}
	}
	return s, NewError(ErrorIllegalTransition, fmt.Sprintf("no transition from %s on %s", s, e))
}
