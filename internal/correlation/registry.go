// Package correlation matches broker confirmations back to the operation waiting for them.
package correlation

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"sync"
)

// ErrAbandoned settles operations whose session was disposed before the broker answered.
var ErrAbandoned = errors.New("pending operation abandoned")

// NewToken returns a fresh correlation token.
func NewToken() string {
	return uuid.NewString()
}

// Outcome is the broker's answer to a correlated operation.
type Outcome struct {
	Message *broker.Message
	Err     error
}

// Pending is a one-shot future for a single correlation token.
type Pending struct {
	Token    string
	registry *Registry
	ch       chan Outcome
	once     sync.Once
}

func (p *Pending) settle(outcome *Outcome) {
	p.once.Do(func() {
		if outcome != nil {
			p.ch <- *outcome
		}
		close(p.ch)
	})
}

// Wait blocks until the broker answers, the registry abandons the token, or ctx ends.
// On ctx expiry the token is discarded.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case outcome, ok := <-p.ch:
		if !ok {
			return Outcome{}, ErrAbandoned
		}
		return outcome, nil
	case <-ctx.Done():
		p.registry.Discard(p.Token)
		return Outcome{}, ctx.Err()
	}
}

// Registry maps correlation tokens to pending operations.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*Pending)}
}

// Register creates the pending entry for token. Registering on an abandoned
// registry returns an entry that is already abandoned.
func (r *Registry) Register(token string) *Pending {
	p := &Pending{Token: token, registry: r, ch: make(chan Outcome, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		p.settle(nil)
		return p
	}
	r.pending[token] = p
	return p
}

// Resolve settles and removes the entry for token. It reports false for unknown tokens.
func (r *Registry) Resolve(token string, outcome Outcome) bool {
	r.mu.Lock()
	p, ok := r.pending[token]
	delete(r.pending, token)
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.settle(&outcome)
	return true
}

// Discard removes token without settling it.
func (r *Registry) Discard(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, token)
}

// AbandonAll settles every entry with ErrAbandoned and refuses new ones.
func (r *Registry) AbandonAll() int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*Pending)
	r.closed = true
	r.mu.Unlock()

	for _, p := range pending {
		p.settle(nil)
	}
	return len(pending)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
