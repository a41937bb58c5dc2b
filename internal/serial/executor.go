// Package serial runs asynchronous tasks strictly one at a time in submission order.
package serial

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"sync"
)

var ErrDestroyed = errors.New("serial executor destroyed")

// Task is a unit of work. It may block on I/O; the next task starts only after it returns.
type Task func(ctx context.Context) error

// Future settles with the result of a single scheduled task.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(err error) {
	f.err = err
	close(f.done)
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task result. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	task   Task
	future *Future
}

// Executor serialises tasks on a single worker goroutine. A failing or panicking
// task only settles its own Future.
type Executor struct {
	name      string
	mu        sync.Mutex
	queue     []job
	signal    chan struct{}
	destroyed bool
	stop      chan struct{}
}

func NewExecutor(name string) *Executor {
	e := &Executor{
		name:   name,
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Schedule appends task to the queue.
func (e *Executor) Schedule(task Task) *Future {
	future := newFuture()

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		future.settle(ErrDestroyed)
		return future
	}
	e.queue = append(e.queue, job{task: task, future: future})
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return future
}

// Pending returns the number of queued tasks that have not started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Destroy stops running queued tasks. The running task is neither awaited nor
// canceled; queued tasks settle with ErrDestroyed.
func (e *Executor) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	dropped := e.queue
	e.queue = nil
	e.mu.Unlock()

	close(e.stop)
	for _, j := range dropped {
		j.future.settle(ErrDestroyed)
	}
	if len(dropped) > 0 {
		logger.DebugF("[%s] executor destroyed, %d queued task(s) dropped", e.name, len(dropped))
	}
}

func (e *Executor) next() (job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || len(e.queue) == 0 {
		return job{}, false
	}
	j := e.queue[0]
	e.queue[0] = job{}
	e.queue = e.queue[1:]
	return j, true
}

func (e *Executor) run() {
	for {
		j, ok := e.next()
		if !ok {
			select {
			case <-e.signal:
				continue
			case <-e.stop:
				return
			}
		}
		j.future.settle(e.execute(j.task))
	}
}

func (e *Executor) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serial task panicked: %v", r)
			logger.ErrorF("[%s] %v", e.name, err)
		}
	}()
	err = task(context.Background())
	if err != nil {
		logger.DebugF("[%s] serial task failed: %v", e.name, err)
	}
	return err
}
