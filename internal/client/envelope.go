package client

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
)

// Envelope is one inbound message as seen by a single observer.
type Envelope struct {
	Message *broker.Message
	// Params holds the values of the named wildcards of the observed pattern.
	Params  map[string]string
	Headers map[string]string
}

func newEnvelope(msg *broker.Message, pattern *topic.Pattern) *Envelope {
	env := &Envelope{Message: msg, Headers: msg.Headers}
	if pattern != nil {
		env.Params = pattern.Extract(msg.Destination)
	}
	if env.Params == nil {
		env.Params = map[string]string{}
	}
	if env.Headers == nil {
		env.Headers = map[string]string{}
	}
	return env
}

func (e *Envelope) Topic() string {
	return e.Message.Destination
}

func (e *Envelope) Payload() []byte {
	return e.Message.Payload
}

func (e *Envelope) Param(name string) string {
	return e.Params[name]
}
