package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/correlation"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/session"
	"sync"
	"time"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// slot is the shared subscribe attempt for one wire pattern. Every observer
// attached to a slot shares its outcome.
type slot struct {
	wire      string
	timeout   time.Duration
	confirmed bool
	err       error
	observers map[*Subscription]struct{}
}

func (s *slot) errored() bool {
	return s.err != nil
}

// engine is the subscription bookkeeping of one session handle.
type engine struct {
	name      string
	handle    *session.Handle
	mu        sync.Mutex
	slots     map[string]*slot
	observers map[*Subscription]struct{}
	stopRoute func()
}

func newEngine(name string, h *session.Handle) *engine {
	e := &engine{
		name:      name,
		handle:    h,
		slots:     make(map[string]*slot),
		observers: make(map[*Subscription]struct{}),
	}
	e.stopRoute = h.Bus().Listen(e.route)
	return e
}

// attach registers sub and schedules a subscribe when it is the first observer
// of its wire pattern.
func (e *engine) attach(sub *Subscription, timeout time.Duration) {
	h := e.handle
	wire := sub.pattern.Wire

	e.mu.Lock()
	if h.Disposed() {
		e.mu.Unlock()
		sub.complete()
		return
	}
	if !sub.bind(e) {
		e.mu.Unlock()
		return
	}

	count := h.Counter().IncrementAndGet(wire)
	s, ok := e.slots[wire]
	first := !ok
	if first {
		s = &slot{wire: wire, timeout: timeout, observers: make(map[*Subscription]struct{})}
		e.slots[wire] = s
	}
	s.observers[sub] = struct{}{}
	e.observers[sub] = struct{}{}
	sub.slot = s
	sub.attached = true
	confirmed := s.confirmed
	e.mu.Unlock()

	logger.DebugF("[%s] observe %s (observers: %d)", e.name, wire, count)
	if first {
		h.Executor().Schedule(func(ctx context.Context) error {
			return e.subscribe(ctx, s)
		})
	}
	if confirmed {
		sub.markSubscribed()
	}
}

// detach is the teardown of one observer. It never waits for the broker.
func (e *engine) detach(sub *Subscription) {
	h := e.handle

	e.mu.Lock()
	if !sub.attached {
		e.mu.Unlock()
		return
	}
	sub.attached = false
	s := sub.slot
	delete(s.observers, sub)
	delete(e.observers, sub)
	remaining := h.Counter().DecrementAndGet(s.wire)
	unsubscribe := false
	if remaining == 0 {
		if e.slots[s.wire] == s {
			delete(e.slots, s.wire)
		}
		unsubscribe = !s.errored()
	}
	e.mu.Unlock()

	logger.DebugF("[%s] release %s (observers: %d)", e.name, s.wire, remaining)
	if unsubscribe {
		h.Executor().Schedule(func(ctx context.Context) error {
			return e.unsubscribe(ctx, s)
		})
	}
}

func (e *engine) subscribe(ctx context.Context, s *slot) error {
	err := e.exchange(ctx, opSubscribe, s)
	if err != nil {
		if sessionGone(err) {
			return nil
		}
		e.reject(s, err)
		return err
	}
	e.confirm(s)
	return nil
}

func (e *engine) unsubscribe(ctx context.Context, s *slot) error {
	e.mu.Lock()
	skip := s.errored()
	e.mu.Unlock()
	if skip {
		return nil
	}
	err := e.exchange(ctx, opUnsubscribe, s)
	if err != nil && !sessionGone(err) {
		logger.WarnF("[%s] error occured while unsubscribing %s: %v", e.name, s.wire, err)
		return err
	}
	return nil
}

// exchange sends one correlated subscribe or unsubscribe and waits for its
// answer. While the connection is interrupted it waits for the reconnect, so
// the timeout only covers the broker round trip.
func (e *engine) exchange(ctx context.Context, op string, s *slot) error {
	h := e.handle
	var epoch uint64
	for {
		var err error
		epoch, err = h.AwaitOnline(ctx, epoch)
		if err != nil {
			return err
		}
		err = e.send(ctx, op, s)
		if errors.Is(err, broker.ErrNotConnected) {
			logger.DebugF("[%s] %s %s waits for reconnect", e.name, op, s.wire)
			continue
		}
		return err
	}
}

func (e *engine) send(ctx context.Context, op string, s *slot) error {
	h := e.handle
	token := correlation.NewToken()
	pending := h.Pending().Register(token)

	var err error
	if op == opSubscribe {
		err = h.Broker().Subscribe(s.wire, true, token, s.timeout)
	} else {
		err = h.Broker().Unsubscribe(s.wire, true, token, s.timeout)
	}
	if errors.Is(err, broker.ErrNotConnected) {
		h.Pending().Discard(token)
		return err
	}
	if err != nil {
		h.Pending().Discard(token)
		return &broker.OperationError{Op: op, Pattern: s.wire, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	outcome, err := pending.Wait(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &broker.OperationError{Op: op, Pattern: s.wire, Err: fmt.Errorf("%w after %s", broker.ErrTimeout, s.timeout)}
	case err != nil:
		return err
	case outcome.Err != nil:
		return &broker.OperationError{Op: op, Pattern: s.wire, Err: outcome.Err}
	}
	return nil
}

// sessionGone reports errors caused by the session going away; observers of a dead
// session are completed by close instead of failed.
func sessionGone(err error) bool {
	return errors.Is(err, correlation.ErrAbandoned) || errors.Is(err, session.ErrSessionEnded)
}

func (e *engine) confirm(s *slot) {
	e.mu.Lock()
	s.confirmed = true
	observers := make([]*Subscription, 0, len(s.observers))
	for sub := range s.observers {
		observers = append(observers, sub)
	}
	e.mu.Unlock()

	logger.DebugF("[%s] subscribed %s", e.name, s.wire)
	for _, sub := range observers {
		sub.markSubscribed()
	}
}

// reject fails every observer of s and frees the pattern so the next Observe
// starts a new attempt.
func (e *engine) reject(s *slot, err error) {
	h := e.handle

	e.mu.Lock()
	s.err = err
	if e.slots[s.wire] == s {
		delete(e.slots, s.wire)
	}
	observers := make([]*Subscription, 0, len(s.observers))
	for sub := range s.observers {
		sub.attached = false
		delete(e.observers, sub)
		h.Counter().DecrementAndGet(s.wire)
		observers = append(observers, sub)
	}
	s.observers = nil
	e.mu.Unlock()

	logger.WarnF("[%s] error occured while subscribing %s: %v", e.name, s.wire, err)
	for _, sub := range observers {
		sub.fail(err)
	}
}

// route hands an inbound message to every observer whose pattern matches it.
func (e *engine) route(ev broker.Event) {
	if ev.Kind != broker.MessageReceived || ev.Message == nil {
		return
	}
	e.mu.Lock()
	targets := make([]*Subscription, 0, len(e.observers))
	for sub := range e.observers {
		if sub.pattern.Matches(ev.Message.Destination) {
			targets = append(targets, sub)
		}
	}
	e.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(newEnvelope(ev.Message, sub.pattern))
	}
}

// close completes every live observer after the session ended. No unsubscribe
// is sent; the broker already dropped the session state.
func (e *engine) close() {
	e.stopRoute()

	e.mu.Lock()
	observers := make([]*Subscription, 0, len(e.observers))
	for sub := range e.observers {
		sub.attached = false
		observers = append(observers, sub)
	}
	e.observers = make(map[*Subscription]struct{})
	e.slots = make(map[string]*slot)
	e.mu.Unlock()

	if len(observers) > 0 {
		logger.InfoF("[%s] session ended, completing %d observer(s)", e.name, len(observers))
	}
	for _, sub := range observers {
		sub.complete()
	}
}

func (e *engine) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}
