// Package broker defines the contract between the session core and a concrete broker transport.
package broker

// EventKind identifies what a broker session is reporting.
type EventKind byte

const (
	Up            EventKind = iota + 1 // connection established
	ConnectFailed                      // initial connection refused or timed out
	Down                               // connection lost for good
	Reconnecting                       // transient loss, transport is retrying
	Reconnected                        // transport recovered
	Disconnected                       // graceful disconnect confirmed
	SubscribeOK
	SubscribeError
	UnsubscribeOK
	UnsubscribeError
	MessageReceived
	Acknowledged // guaranteed publish accepted
	Rejected     // guaranteed publish refused
)

var eventKindMap = map[EventKind]string{
	Up:               "UP",
	ConnectFailed:    "CONNECT_FAILED",
	Down:             "DOWN",
	Reconnecting:     "RECONNECTING",
	Reconnected:      "RECONNECTED",
	Disconnected:     "DISCONNECTED",
	SubscribeOK:      "SUBSCRIBE_OK",
	SubscribeError:   "SUBSCRIBE_ERROR",
	UnsubscribeOK:    "UNSUBSCRIBE_OK",
	UnsubscribeError: "UNSUBSCRIBE_ERROR",
	MessageReceived:  "MESSAGE",
	Acknowledged:     "ACKNOWLEDGED",
	Rejected:         "REJECTED",
}

func (kind EventKind) String() string {
	if name, ok := eventKindMap[kind]; ok {
		return name
	}
	return "UNKNOWN"
}

// Correlated reports whether events of this kind carry a correlation token.
func (kind EventKind) Correlated() bool {
	switch kind {
	case SubscribeOK, SubscribeError, UnsubscribeOK, UnsubscribeError, Acknowledged, Rejected:
		return true
	}
	return false
}

// Failure reports whether the event settles a correlated operation as failed.
func (kind EventKind) Failure() bool {
	return kind == SubscribeError || kind == UnsubscribeError || kind == Rejected
}

type Event struct {
	Kind EventKind
	// Token is the correlation token (subscribe/unsubscribe) or key (guaranteed publish).
	Token   string
	Message *Message
	Err     error
}

// Handler receives every event a session emits. It may be called from any goroutine.
type Handler func(Event)
