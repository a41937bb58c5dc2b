package client

import (
	"context"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/stream"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"sync"
)

// Subscription is the stream of envelopes for one Observe call. It ends
// gracefully when the session ends and with an error when the subscribe
// attempt fails.
type Subscription struct {
	raw          string
	pattern      *topic.Pattern
	out          *stream.Stream[*Envelope]
	ctx          context.Context
	cancel       context.CancelFunc
	onSubscribed func()

	subscribed     chan struct{}
	subscribedOnce sync.Once

	mu       sync.Mutex
	canceled bool
	engine   *engine
	// attachment fields below are guarded by engine.mu
	slot     *slot
	attached bool
}

func newSubscription(raw string, pattern *topic.Pattern, onSubscribed func()) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		raw:          raw,
		pattern:      pattern,
		out:          stream.New[*Envelope](),
		ctx:          ctx,
		cancel:       cancel,
		onSubscribed: onSubscribed,
		subscribed:   make(chan struct{}),
	}
	sub.out.OnCancel(sub.teardown)
	return sub
}

// C delivers matching envelopes in broker order and is closed when the subscription ends.
func (s *Subscription) C() <-chan *Envelope {
	return s.out.C()
}

func (s *Subscription) Done() <-chan struct{} {
	return s.out.Done()
}

// Err is nil after graceful completion or Unsubscribe.
func (s *Subscription) Err() error {
	return s.out.Err()
}

// Subscribed is closed once the broker has confirmed the subscription.
func (s *Subscription) Subscribed() <-chan struct{} {
	return s.subscribed
}

// Pattern returns the pattern as passed to Observe.
func (s *Subscription) Pattern() string {
	return s.raw
}

// Unsubscribe ends the subscription without blocking. The broker-side
// unsubscribe, if one is due, runs in the background.
func (s *Subscription) Unsubscribe() {
	s.out.Cancel()
}

func (s *Subscription) teardown() {
	s.mu.Lock()
	s.canceled = true
	e := s.engine
	s.mu.Unlock()

	s.cancel()
	if e != nil {
		e.detach(s)
	}
}

// bind links s to e. It fails when s was canceled first. Called with e.mu held.
func (s *Subscription) bind(e *engine) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return false
	}
	s.engine = e
	return true
}

func (s *Subscription) markSubscribed() {
	s.subscribedOnce.Do(func() {
		close(s.subscribed)
		if s.onSubscribed != nil {
			s.onSubscribed()
		}
	})
}

func (s *Subscription) deliver(env *Envelope) {
	s.out.Push(env)
}

func (s *Subscription) complete() {
	s.cancel()
	s.out.Complete()
}

func (s *Subscription) fail(err error) {
	s.cancel()
	s.out.Fail(err)
}
