package statemachine

import "fmt"

// StateValue is the lifecycle state of the updates client.
type StateValue int

const (
	// StateIdle is the initial state. No check, download or restart is in flight.
	StateIdle StateValue = iota
	// StateChecking means a manifest request is in flight.
	StateChecking
	// StateDownloading means an update is being downloaded.
	StateDownloading
	// StateRestarting means the application is reloading. No events are accepted until reset.
	StateRestarting
)

// AllStates lists every state value.
var AllStates = []StateValue{StateIdle, StateChecking, StateDownloading, StateRestarting}

func (s StateValue) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateDownloading:
		return "downloading"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("StateValue(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s StateValue) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
