package broker

// Delivery selects how a publish is acknowledged.
type Delivery byte

const (
	// Direct is best-effort: Send returns once the transport has the message.
	Direct Delivery = iota
	// Persistent waits for the broker to acknowledge or reject the message.
	Persistent
)

func (d Delivery) String() string {
	if d == Persistent {
		return "PERSISTENT"
	}
	return "DIRECT"
}

type Message struct {
	Destination   string
	Payload       []byte
	Headers       map[string]string
	ReplyTo       string
	CorrelationID string
	// CorrelationKey is echoed on the Acknowledged/Rejected event of a Persistent publish.
	CorrelationKey string
	Delivery       Delivery
}

// Header returns a header value, tolerating a nil map.
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}
