// Package environment manages one independent client per named environment.
package environment

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/loopback"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/mqtt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/nats"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/client"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/store"
	"sort"
	"sync"
)

// DefaultFactories maps every built-in transport to its session factory.
func DefaultFactories(hub *loopback.Hub) map[string]broker.Factory {
	return map[string]broker.Factory{
		config.TransportLoopback: hub.Factory,
		config.TransportMQTT:     mqtt.NewSession,
		config.TransportNATS:     nats.NewSession,
	}
}

// Registry hands out one client per environment name. Clients never share
// sessions, counters or executors.
type Registry struct {
	profiles  store.ProfileStore
	factories map[string]broker.Factory
	clients   sync.Map
}

func NewRegistry(profiles store.ProfileStore, factories map[string]broker.Factory) *Registry {
	return &Registry{profiles: profiles, factories: factories}
}

func (r *Registry) factory(cfg config.Connection, h broker.Handler) (broker.Session, error) {
	f, ok := r.factories[cfg.TransportName()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
	}
	return f(cfg, h)
}

// Client returns the client of environment name, creating it on first use.
func (r *Registry) Client(name string) *client.Client {
	if value, ok := r.clients.Load(name); ok {
		return value.(*client.Client)
	}
	value, _ := r.clients.LoadOrStore(name, client.New(name, r.factory))
	return value.(*client.Client)
}

// Connect resolves the profile of name and connects its client.
func (r *Registry) Connect(ctx context.Context, name string) (*client.Client, error) {
	profile, err := r.profiles.Get(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, fmt.Errorf("%w: %s", config.ErrUnknownEnvironment, name)
		}
		return nil, err
	}
	if profile.Name == "" {
		profile.Name = name
	}
	c := r.Client(name)
	if err := c.Connect(ctx, profile); err != nil {
		return nil, fmt.Errorf("error occured while connecting environment %s: %w", name, err)
	}
	return c, nil
}

func (r *Registry) Disconnect(ctx context.Context, name string) error {
	value, ok := r.clients.Load(name)
	if !ok {
		return nil
	}
	return value.(*client.Client).Disconnect(ctx)
}

// DisconnectAll disconnects every environment and joins their errors.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Disconnect(ctx, name); err != nil {
			logger.ErrorF("Error occured while disconnecting environment %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the environments that have a client, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.clients.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Invoke disconnects every environment. It lets the registry be registered with the shutdown cleaner.
func (r *Registry) Invoke(ctx context.Context) error {
	logger.InfoF("Disconnecting %d environment(s)", len(r.Names()))
	return r.DisconnectAll(ctx)
}
