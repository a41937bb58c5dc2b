// Package subscription keeps per-pattern observer counts used to deduplicate broker subscribe traffic.
package subscription

import "sync"

// Counter reference-counts observers per wire-level pattern. Counts never go below zero.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// IncrementAndGet adds one observer to pattern and returns the new count.
func (c *Counter) IncrementAndGet(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[pattern]++
	return c.counts[pattern]
}

// DecrementAndGet removes one observer from pattern and returns the new count.
// The entry is dropped when it reaches zero.
func (c *Counter) DecrementAndGet(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, ok := c.counts[pattern]
	if !ok || count <= 1 {
		delete(c.counts, pattern)
		return 0
	}
	c.counts[pattern] = count - 1
	return count - 1
}

func (c *Counter) Get(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[pattern]
}

// Len returns the number of patterns with at least one observer.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
}
