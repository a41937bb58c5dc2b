// Package client is the application-facing surface of one logical broker
// connection: observe, publish, request and reply on top of a session.Manager.
package client

import (
	"context"
	"errors"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/session"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"sync"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrNoReplyTo      = errors.New("message has no reply destination")
)

type Client struct {
	name     string
	manager  *session.Manager
	patterns *topic.Cache

	mu      sync.Mutex
	engines map[uint64]*engine
}

// New creates a client whose sessions are opened through factory. Clients
// share nothing with each other.
func New(name string, factory broker.Factory) *Client {
	return &Client{
		name:     name,
		manager:  session.NewManager(name, factory),
		patterns: topic.NewCache(topic.DefaultCacheSize),
		engines:  make(map[uint64]*engine),
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Manager() *session.Manager {
	return c.manager
}

func (c *Client) Connect(ctx context.Context, cfg config.Connection) error {
	h, err := c.manager.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	c.engine(h)
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.manager.Disconnect(ctx)
}

// ConnectionState replays the current connected flag and every later change.
// Cancel the watch when done.
func (c *Client) ConnectionState() *session.Watch {
	return c.manager.ConnectionState()
}

func (c *Client) State() session.State {
	return c.manager.State()
}

func (c *Client) Status() session.Status {
	return c.manager.Status()
}

// Observe subscribes to pattern. Named segments such as ":room" match one level
// and are reported in Envelope.Params. Observers of the same pattern share one
// broker subscription.
func (c *Client) Observe(pattern string, opts ...Option) *Subscription {
	o := buildOptions(opts)
	compiled, err := c.patterns.Compile(pattern)
	sub := newSubscription(pattern, compiled, o.onSubscribed)
	if err != nil {
		sub.fail(err)
		return sub
	}

	go func() {
		h, err := c.manager.Current(sub.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			sub.fail(err)
			return
		}
		c.engine(h).attach(sub, o.timeout)
	}()
	return sub
}

// engine returns the bookkeeping of h, creating it on first use.
func (c *Client) engine(h *session.Handle) *engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.engines[h.ID()]; ok {
		return e
	}
	e := newEngine(c.name, h)
	c.engines[h.ID()] = e
	go func() {
		<-h.Done()
		c.mu.Lock()
		delete(c.engines, h.ID())
		c.mu.Unlock()
		e.close()
		logger.DebugF("[%s] released subscription state of session %d", c.name, h.ID())
	}()
	return e
}

// Observers returns the number of live observers on the current session.
func (c *Client) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, e := range c.engines {
		total += e.len()
	}
	return total
}
