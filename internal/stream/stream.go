// Package stream provides an unbounded push stream delivered over a channel.
package stream

import "sync"

// Stream buffers pushed values without blocking the producer and hands them to
// a single consumer through C in push order.
type Stream[T any] struct {
	mu       sync.Mutex
	items    []T
	closed   bool
	err      error
	signal   chan struct{}
	out      chan T
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	onCancel func()
}

func New[T any]() *Stream[T] {
	s := &Stream[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// OnCancel registers fn to run once when the consumer cancels the stream.
func (s *Stream[T]) OnCancel(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCancel = fn
}

// Push queues v. It reports false once the stream has ended.
func (s *Stream[T]) Push(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items, v)
	s.mu.Unlock()
	s.notify()
	return true
}

// Complete ends the stream after the queued values are delivered.
func (s *Stream[T]) Complete() bool {
	return s.end(nil)
}

// Fail ends the stream with err after the queued values are delivered.
func (s *Stream[T]) Fail(err error) bool {
	return s.end(err)
}

func (s *Stream[T]) end(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	s.notify()
	return true
}

// Cancel ends the stream immediately, dropping queued values.
func (s *Stream[T]) Cancel() {
	s.mu.Lock()
	s.closed = true
	s.items = nil
	onCancel := s.onCancel
	s.onCancel = nil
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })
	if onCancel != nil {
		onCancel()
	}
}

func (s *Stream[T]) C() <-chan T {
	return s.out
}

// Done is closed after C is closed.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure passed to Fail; nil means graceful completion or cancel.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ended reports whether Complete, Fail or Cancel was called.
func (s *Stream[T]) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream[T]) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) pump() {
	defer close(s.done)
	defer close(s.out)

	var zero T
	for {
		s.mu.Lock()
		if len(s.items) > 0 {
			v := s.items[0]
			s.items[0] = zero
			s.items = s.items[1:]
			s.mu.Unlock()

			select {
			case s.out <- v:
			case <-s.stop:
				return
			}
			continue
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		select {
		case <-s.signal:
		case <-s.stop:
			return
		}
	}
}
