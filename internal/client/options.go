package client

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"time"
)

// DefaultTimeout bounds subscribe, unsubscribe, guaranteed publish and request waits.
const DefaultTimeout = 10 * time.Second

type options struct {
	onSubscribed  func()
	timeout       time.Duration
	headers       map[string]string
	delivery      broker.Delivery
	correlationID string
}

// Option configures a single Observe, Publish, Request or Reply call.
type Option func(*options)

// WithOnSubscribed registers fn to run once the broker confirms the subscription,
// or immediately when an equal subscription is already active.
func WithOnSubscribed(fn func()) Option {
	return func(o *options) {
		o.onSubscribed = fn
	}
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithDelivery selects best-effort or guaranteed delivery for Publish.
func WithDelivery(delivery broker.Delivery) Option {
	return func(o *options) {
		o.delivery = delivery
	}
}

func WithCorrelationID(id string) Option {
	return func(o *options) {
		o.correlationID = id
	}
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout, delivery: broker.Direct}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) message(destination string, payload []byte) *broker.Message {
	var headers map[string]string
	if len(o.headers) > 0 {
		headers = make(map[string]string, len(o.headers))
		for k, v := range o.headers {
			headers[k] = v
		}
	}
	return &broker.Message{
		Destination:   destination,
		Payload:       payload,
		Headers:       headers,
		CorrelationID: o.correlationID,
		Delivery:      o.delivery,
	}
}
