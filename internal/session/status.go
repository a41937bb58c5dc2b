package session

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/stream"
	"sync"
)

// Watch is a connection-state subscription. Cancel it to stop watching.
type Watch = stream.Stream[bool]

// statusSignal holds the latest connected flag and replays it to new watchers.
type statusSignal struct {
	mu       sync.Mutex
	current  bool
	watchers map[*Watch]struct{}
}

func newStatusSignal() *statusSignal {
	return &statusSignal{watchers: make(map[*Watch]struct{})}
}

// set publishes connected, skipping values equal to the current one.
func (s *statusSignal) set(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == connected {
		return
	}
	s.current = connected
	for w := range s.watchers {
		w.Push(connected)
	}
}

func (s *statusSignal) get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *statusSignal) watch() *Watch {
	w := stream.New[bool]()

	s.mu.Lock()
	defer s.mu.Unlock()
	w.Push(s.current)
	s.watchers[w] = struct{}{}
	w.OnCancel(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, w)
	})
	return w
}

func (s *statusSignal) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
