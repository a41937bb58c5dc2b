package session

import (
	"context"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/correlation"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/serial"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/subscription"
	"sync"
	"sync/atomic"
)

var handleIDs atomic.Uint64

// Handle is one connection generation: the broker session plus every resource
// derived from it. A disposed Handle is never reused.
type Handle struct {
	id       uint64
	name     string
	config   config.Connection
	broker   broker.Session
	counter  *subscription.Counter
	executor *serial.Executor
	pending  *correlation.Registry
	bus      *Bus

	qmu    sync.Mutex
	queue  []broker.Event
	signal chan struct{}

	ready      chan struct{}
	settleOnce sync.Once
	connectErr error

	lmu    sync.Mutex
	online bool
	epoch  uint64
	wake   chan struct{}

	done        chan struct{}
	disposeOnce sync.Once
}

func newHandle(name string, cfg config.Connection) *Handle {
	id := handleIDs.Add(1)
	return &Handle{
		id:       id,
		name:     name,
		config:   cfg,
		counter:  subscription.NewCounter(),
		executor: serial.NewExecutor(name),
		pending:  correlation.NewRegistry(),
		bus:      newBus(),
		signal:   make(chan struct{}, 1),
		ready:    make(chan struct{}),
		wake:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *Handle) ID() uint64 {
	return h.id
}

func (h *Handle) Config() config.Connection {
	return h.config
}

func (h *Handle) Broker() broker.Session {
	return h.broker
}

func (h *Handle) Counter() *subscription.Counter {
	return h.counter
}

func (h *Handle) Executor() *serial.Executor {
	return h.executor
}

func (h *Handle) Pending() *correlation.Registry {
	return h.pending
}

func (h *Handle) Bus() *Bus {
	return h.bus
}

// Done is closed when the handle is disposed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Disposed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// enqueue is the broker.Handler of this generation. It never blocks.
func (h *Handle) enqueue(ev broker.Event) {
	if h.Disposed() {
		return
	}
	h.qmu.Lock()
	h.queue = append(h.queue, ev)
	h.qmu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events to the bus in arrival order until disposal.
func (h *Handle) dispatch() {
	for {
		h.qmu.Lock()
		if len(h.queue) == 0 {
			h.qmu.Unlock()
			select {
			case <-h.signal:
				continue
			case <-h.done:
				return
			}
		}
		ev := h.queue[0]
		h.queue[0] = broker.Event{}
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		if h.Disposed() {
			return
		}
		h.bus.publish(ev)
	}
}

// relay settles correlated operations from confirmation and rejection events.
func (h *Handle) relay(ev broker.Event) {
	if !ev.Kind.Correlated() || ev.Token == "" {
		return
	}
	outcome := correlation.Outcome{Message: ev.Message}
	if ev.Kind.Failure() {
		outcome.Err = ev.Err
		if outcome.Err == nil {
			outcome.Err = ErrRejected
		}
	}
	if !h.pending.Resolve(ev.Token, outcome) {
		logDebug(h.name, "no pending operation for %s token %s", ev.Kind, ev.Token)
	}
}

func (h *Handle) settle(err error) {
	h.settleOnce.Do(func() {
		h.connectErr = err
		close(h.ready)
	})
}

// settled reports whether the initial connect has an outcome, and that outcome.
func (h *Handle) settled() (bool, error) {
	select {
	case <-h.ready:
		return true, h.connectErr
	default:
		return false, nil
	}
}

// setOnline records whether the broker connection is usable. Every switch to
// online starts a new epoch.
func (h *Handle) setOnline(online bool) {
	h.lmu.Lock()
	defer h.lmu.Unlock()
	if h.online == online {
		return
	}
	h.online = online
	if online {
		h.epoch++
	}
	close(h.wake)
	h.wake = make(chan struct{})
}

// AwaitOnline blocks until the connection is up in an epoch later than after
// and returns that epoch. It fails with ErrSessionEnded once h is disposed.
func (h *Handle) AwaitOnline(ctx context.Context, after uint64) (uint64, error) {
	for {
		h.lmu.Lock()
		if h.online && h.epoch > after {
			epoch := h.epoch
			h.lmu.Unlock()
			return epoch, nil
		}
		wake := h.wake
		h.lmu.Unlock()

		select {
		case <-wake:
		case <-h.done:
			return 0, ErrSessionEnded
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
