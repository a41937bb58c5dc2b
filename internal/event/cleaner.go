// Package event runs registered shutdown callbacks when the process is asked to stop.
package event

import (
	"context"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const DefaultCleanerTimeout = 10 * time.Second

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs its callables in registration order, once, either on SIGINT or
// SIGTERM or when Shutdown is called.
type Cleaner struct {
	mu             sync.Mutex
	cleaners       []Callable
	cleaning       bool
	timeout        time.Duration
	loggerShutdown Callable
	once           sync.Once
	done           chan struct{}
	errs           []error
}

func NewCleaner(loggerShutdown Callable) *Cleaner {
	return &Cleaner{
		timeout:        DefaultCleanerTimeout,
		loggerShutdown: loggerShutdown,
		done:           make(chan struct{}),
	}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Listen runs the cleanup when the process receives SIGINT or SIGTERM.
func (c *Cleaner) Listen() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		defer stop()
		select {
		case <-ctx.Done():
			logger.Info("Received interrupt signal, shutting down")
			c.Shutdown()
		case <-c.done:
		}
	}()
}

// Done is closed once every cleaner has run.
func (c *Cleaner) Done() <-chan struct{} {
	return c.done
}

// Errors returns the failures collected during cleanup.
func (c *Cleaner) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}

// Shutdown runs the cleanup. Calls after the first wait for it to finish.
func (c *Cleaner) Shutdown() {
	c.once.Do(c.run)
	<-c.done
}

func (c *Cleaner) run() {
	defer close(c.done)

	c.mu.Lock()
	c.cleaning = true
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for i, callable := range cleanersCopy {
		func(idx int, callable Callable) {
			logger.DebugF("Invoking cleaner #%d (%T)", idx+1, callable)
			timeoutCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := callable.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, callable, err)
				errs = append(errs, err)
			}
		}(i, callable)
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup", len(errs))
	} else {
		logger.Debug("All cleaners executed successfully")
	}
	logger.Info("Cleanup finished")

	c.mu.Lock()
	c.errs = errs
	c.mu.Unlock()

	if c.loggerShutdown == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
	}
}
