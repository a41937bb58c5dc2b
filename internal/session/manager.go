// Package session owns the single broker session of a logical connection and
// its connect, reconnect and teardown lifecycle.
package session

import (
	"context"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"sync"
)

// Manager holds at most one live Handle. Independent Managers share nothing.
type Manager struct {
	name    string
	factory broker.Factory

	mu      sync.Mutex
	state   State
	handle  *Handle
	lastErr error

	status *statusSignal
}

func NewManager(name string, factory broker.Factory) *Manager {
	return &Manager{
		name:    name,
		factory: factory,
		status:  newStatusSignal(),
	}
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Status() Status {
	return m.State().Status()
}

// Connected reports the latest value of the connection-state signal.
func (m *Manager) Connected() bool {
	return m.status.get()
}

// ConnectionState returns a watch that immediately yields the current
// connected flag and then every change. It never completes on its own.
func (m *Manager) ConnectionState() *Watch {
	return m.status.watch()
}

// Connect opens the broker session described by cfg and waits for it to come up.
// While a handle exists, every caller joins the same attempt and gets the same handle.
func (m *Manager) Connect(ctx context.Context, cfg config.Connection) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m.mu.Lock()
	h := m.handle
	if h != nil && m.state == Disconnecting {
		m.mu.Unlock()
		return nil, ErrDisconnecting
	}
	if h == nil {
		var err error
		h, err = m.open(cfg)
		if err != nil {
			m.lastErr = err
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	return m.await(ctx, h)
}

// open creates a new generation. Called with m.mu held.
func (m *Manager) open(cfg config.Connection) (*Handle, error) {
	h := newHandle(m.name, cfg)
	session, err := m.factory(cfg, h.enqueue)
	if err != nil {
		h.executor.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	h.broker = session
	h.bus.Listen(func(ev broker.Event) { m.monitor(h, ev) })
	h.bus.Listen(h.relay)

	m.handle = h
	m.lastErr = nil
	m.setState(Connecting)
	go h.dispatch()

	logInfo(m.name, "connecting to %s via %s", cfg.URL, cfg.TransportName())
	if err := session.Connect(); err != nil {
		go m.dispose(h, fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}
	return h, nil
}

func (m *Manager) await(ctx context.Context, h *Handle) (*Handle, error) {
	select {
	case <-h.ready:
		if h.connectErr != nil {
			return nil, h.connectErr
		}
		if h.Disposed() {
			return nil, ErrSessionEnded
		}
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Current returns the live handle, waiting for a connect in progress.
func (m *Manager) Current(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	h, lastErr := m.handle, m.lastErr
	m.mu.Unlock()

	if h == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNotConnected
	}
	return m.await(ctx, h)
}

// Disconnect asks the broker to end the session and waits until it confirms,
// so server-side state is released before local bookkeeping is dropped. When
// the broker refuses, the handle is disposed locally and nil is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	if h == nil {
		m.mu.Unlock()
		return nil
	}
	alreadyDisconnecting := m.state == Disconnecting
	m.setState(Disconnecting)
	m.mu.Unlock()

	if !alreadyDisconnecting {
		logInfo(m.name, "disconnecting")
		if err := h.broker.Disconnect(); err != nil {
			logWarn(m.name, "broker refused disconnect, disposing locally: %v", err)
			m.dispose(h, nil)
			return nil
		}
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// monitor drives the state machine from broker lifecycle events.
func (m *Manager) monitor(h *Handle, ev broker.Event) {
	switch ev.Kind {
	case broker.Up:
		if !m.transition(h, Connected) {
			h.settle(ErrDisconnecting)
			return
		}
		h.setOnline(true)
		m.status.set(true)
		h.settle(nil)
	case broker.Reconnected:
		if !m.transition(h, Connected) {
			return
		}
		h.setOnline(true)
		m.status.set(true)
	case broker.Reconnecting:
		h.setOnline(false)
		if m.transition(h, Reconnecting) {
			m.status.set(false)
		}
		logWarn(m.name, "connection interrupted, reconnecting: %v", ev.Err)
	case broker.ConnectFailed:
		if settled, _ := h.settled(); settled {
			logWarn(m.name, "reconnect attempt failed: %v", ev.Err)
			return
		}
		m.dispose(h, fmt.Errorf("%w: %v", ErrConnectFailed, ev.Err))
	case broker.Down:
		if settled, _ := h.settled(); !settled {
			m.dispose(h, fmt.Errorf("%w: %v", ErrConnectFailed, ev.Err))
			return
		}
		m.dispose(h, fmt.Errorf("%w: %v", ErrSessionEnded, ev.Err))
	case broker.Disconnected:
		m.dispose(h, nil)
	}
}

// transition moves to next unless h is stale or already disconnecting. It
// reports whether the move was made.
func (m *Manager) transition(h *Handle, next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h || m.state == Disconnecting {
		return false
	}
	m.setState(next)
	return true
}

// setState is called with m.mu held.
func (m *Manager) setState(next State) {
	if m.state == next {
		return
	}
	logDebug(m.name, "session %s -> %s", m.state, next)
	m.state = next
}

// dispose tears down every resource of h exactly once. Observers waiting on
// h.Done complete gracefully; pending correlations are abandoned, not rejected.
func (m *Manager) dispose(h *Handle, cause error) {
	h.disposeOnce.Do(func() {
		if cause != nil {
			h.settle(cause)
		} else {
			h.settle(ErrSessionEnded)
		}

		m.mu.Lock()
		if m.handle == h {
			m.handle = nil
			m.lastErr = cause
			m.setState(Disposed)
		}
		m.mu.Unlock()

		h.broker.Dispose()
		h.counter.Clear()
		h.executor.Destroy()
		abandoned := h.pending.AbandonAll()
		close(h.done)
		m.status.set(false)

		if cause != nil {
			logWarn(m.name, "session disposed: %v (%d pending operation(s) abandoned)", cause, abandoned)
			return
		}
		logInfo(m.name, "session closed (%d pending operation(s) abandoned)", abandoned)
	})
}
