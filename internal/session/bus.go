package session

import (
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"sync"
)

// Listener consumes bus events on the dispatch goroutine and must not block.
type Listener func(broker.Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Bus fans every broker event of one session out to its listeners in registration order.
type Bus struct {
	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    uint64
}

func newBus() *Bus {
	return &Bus{}
}

// Listen registers fn and returns a function that removes it.
func (b *Bus) Listen(fn Listener) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, entry := range b.listeners {
				if entry.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

func (b *Bus) publish(ev broker.Event) {
	b.mu.RLock()
	listeners := make([]listenerEntry, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, entry := range listeners {
		entry.fn(ev)
	}
}
