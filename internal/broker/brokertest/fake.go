// Package brokertest provides a scriptable broker.Session for tests.
package brokertest

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"sync"
	"time"
)

const (
	OpConnect     = "connect"
	OpDisconnect  = "disconnect"
	OpDispose     = "dispose"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSend        = "send"
	OpRequest     = "request"
	OpReply       = "reply"
)

type Call struct {
	Op      string
	Pattern string
	Token   string
	Timeout time.Duration
	Message *broker.Message
}

// Fake records every call and answers according to its switches. Events are
// emitted synchronously from inside the call that triggers them.
type Fake struct {
	mu      sync.Mutex
	handler broker.Handler
	calls   []Call
	rejects map[string]error
	created int

	// AutoUp emits Up from Connect.
	AutoUp bool
	// AutoConfirm answers Subscribe/Unsubscribe with OK or the configured rejection.
	AutoConfirm bool
	// AutoDisconnect emits Disconnected from Disconnect.
	AutoDisconnect bool
	// AutoAck acknowledges Persistent sends.
	AutoAck bool
	// ConnectError makes Connect emit ConnectFailed instead of Up.
	ConnectError error
	// DisconnectError is returned by Disconnect, which then emits nothing.
	DisconnectError error
	// Offline makes Subscribe, Unsubscribe and Send fail with broker.ErrNotConnected.
	// Emitting Reconnecting sets it; emitting Up or Reconnected clears it.
	Offline bool
	// OnRequest answers SendRequest from a goroutine; nil leaves requests unanswered.
	OnRequest func(*broker.Message) (*broker.Message, error)
}

// New returns a Fake that connects, confirms and disconnects on its own.
func New() *Fake {
	return &Fake{
		AutoUp:         true,
		AutoConfirm:    true,
		AutoDisconnect: true,
		AutoAck:        true,
		rejects:        make(map[string]error),
	}
}

// Factory hands this Fake out as the session for every connect.
func (f *Fake) Factory(_ config.Connection, h broker.Handler) (broker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.created++
	return f, nil
}

// Configure changes the switches of a Fake that may already be in use.
func (f *Fake) Configure(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *Fake) switches() (autoConfirm, autoDisconnect, autoAck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AutoConfirm, f.AutoDisconnect, f.AutoAck
}

func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Emit delivers ev to the current handler.
func (f *Fake) Emit(ev broker.Event) {
	f.mu.Lock()
	h := f.handler
	switch ev.Kind {
	case broker.Reconnecting:
		f.Offline = true
	case broker.Up, broker.Reconnected:
		f.Offline = false
	}
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Deliver emits an inbound message on topic.
func (f *Fake) Deliver(topic string, payload string) {
	f.Emit(broker.Event{Kind: broker.MessageReceived, Message: &broker.Message{Destination: topic, Payload: []byte(payload)}})
}

// RejectSubscribe makes subscribe attempts on pattern fail with err until cleared with nil.
func (f *Fake) RejectSubscribe(pattern string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.rejects, pattern)
		return
	}
	f.rejects[pattern] = err
}

func (f *Fake) offline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Offline
}

func (f *Fake) record(call Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []Call
	for _, c := range f.calls {
		if c.Op == op {
			result = append(result, c)
		}
	}
	return result
}

func (f *Fake) Count(op string) int {
	return len(f.Calls(op))
}

// Ops returns the recorded operation names in call order.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// LastToken returns the token of the latest call of op.
func (f *Fake) LastToken(op string) string {
	calls := f.Calls(op)
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1].Token
}

func (f *Fake) Connect() error {
	f.record(Call{Op: OpConnect})
	f.mu.Lock()
	autoUp, connectErr := f.AutoUp, f.ConnectError
	f.mu.Unlock()

	if connectErr != nil {
		f.Emit(broker.Event{Kind: broker.ConnectFailed, Err: connectErr})
		return nil
	}
	if autoUp {
		f.Emit(broker.Event{Kind: broker.Up})
	}
	return nil
}

func (f *Fake) Disconnect() error {
	f.record(Call{Op: OpDisconnect})
	f.mu.Lock()
	disconnectErr := f.DisconnectError
	f.mu.Unlock()
	if disconnectErr != nil {
		return disconnectErr
	}
	if _, autoDisconnect, _ := f.switches(); autoDisconnect {
		f.Emit(broker.Event{Kind: broker.Disconnected})
	}
	return nil
}

func (f *Fake) Dispose() {
	f.record(Call{Op: OpDispose})
}

func (f *Fake) Subscribe(pattern string, _ bool, token string, timeout time.Duration) error {
	f.record(Call{Op: OpSubscribe, Pattern: pattern, Token: token, Timeout: timeout})
	if f.offline() {
		return broker.ErrNotConnected
	}
	if autoConfirm, _, _ := f.switches(); !autoConfirm {
		return nil
	}
	f.mu.Lock()
	err := f.rejects[pattern]
	f.mu.Unlock()
	if err != nil {
		f.Emit(broker.Event{Kind: broker.SubscribeError, Token: token, Err: err})
		return nil
	}
	f.Emit(broker.Event{Kind: broker.SubscribeOK, Token: token})
	return nil
}

func (f *Fake) Unsubscribe(pattern string, _ bool, token string, timeout time.Duration) error {
	f.record(Call{Op: OpUnsubscribe, Pattern: pattern, Token: token, Timeout: timeout})
	if f.offline() {
		return broker.ErrNotConnected
	}
	if autoConfirm, _, _ := f.switches(); autoConfirm {
		f.Emit(broker.Event{Kind: broker.UnsubscribeOK, Token: token})
	}
	return nil
}

func (f *Fake) Send(msg *broker.Message) error {
	f.record(Call{Op: OpSend, Pattern: msg.Destination, Token: msg.CorrelationKey, Message: msg})
	if f.offline() {
		return broker.ErrNotConnected
	}
	if _, _, autoAck := f.switches(); msg.Delivery == broker.Persistent && autoAck {
		f.Emit(broker.Event{Kind: broker.Acknowledged, Token: msg.CorrelationKey})
	}
	return nil
}

func (f *Fake) SendRequest(msg *broker.Message, timeout time.Duration, onReply func(*broker.Message), onError func(error)) error {
	f.record(Call{Op: OpRequest, Pattern: msg.Destination, Timeout: timeout, Message: msg})
	f.mu.Lock()
	answer := f.OnRequest
	f.mu.Unlock()
	if answer == nil {
		return nil
	}
	go func() {
		reply, err := answer(msg)
		if err != nil {
			onError(err)
			return
		}
		onReply(reply)
	}()
	return nil
}

func (f *Fake) SendReply(request *broker.Message, reply *broker.Message) error {
	f.record(Call{Op: OpReply, Pattern: request.ReplyTo, Message: reply})
	return nil
}
