package session

// State is the lifecycle state of a Manager.
type State int32

const (
	Uninitialized State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
	Disposed
)

var stateMap = map[State]string{
	Uninitialized: "UNINITIALIZED",
	Connecting:    "CONNECTING",
	Connected:     "CONNECTED",
	Reconnecting:  "RECONNECTING",
	Disconnecting: "DISCONNECTING",
	Disposed:      "DISPOSED",
}

func (s State) String() string {
	if name, ok := stateMap[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Status is the coarse connection state exposed to applications.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Status maps the lifecycle state onto the application-facing connection state.
func (s State) Status() Status {
	switch s {
	case Connecting, Reconnecting:
		return StatusConnecting
	case Connected:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}
