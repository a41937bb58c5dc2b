package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecutorRunsInSubmissionOrder(t *testing.T) {
	executor := NewExecutor("order")
	defer executor.Destroy()

	var mu sync.Mutex
	var order []int
	delays := []time.Duration{40 * time.Millisecond, 10 * time.Millisecond, 30 * time.Millisecond, 0}

	futures := make([]*Future, 0, len(delays))
	for i, delay := range delays {
		i, delay := i, delay
		futures = append(futures, executor.Schedule(func(ctx context.Context) error {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, f := range futures {
		require.NoError(t, f.Wait(ctx))
	}
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestExecutorIsolatesFailures(t *testing.T) {
	executor := NewExecutor("failures")
	defer executor.Destroy()

	boom := errors.New("boom")
	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	first := executor.Schedule(func(ctx context.Context) error { record("first"); return nil })
	failing := executor.Schedule(func(ctx context.Context) error { record("failing"); return boom })
	panicking := executor.Schedule(func(ctx context.Context) error { record("panicking"); panic("bad state") })
	last := executor.Schedule(func(ctx context.Context) error { record("last"); return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, first.Wait(ctx))
	assert.ErrorIs(t, failing.Wait(ctx), boom)
	assert.ErrorContains(t, panicking.Wait(ctx), "bad state")
	assert.NoError(t, last.Wait(ctx))
	assert.Equal(t, []string{"first", "failing", "panicking", "last"}, ran)
}

func TestExecutorTaskStartsAfterPreviousSettles(t *testing.T) {
	executor := NewExecutor("handshake")
	defer executor.Destroy()

	release := make(chan struct{})
	started := make(chan struct{})
	executor.Schedule(func(ctx context.Context) error {
		<-release
		return nil
	})
	second := executor.Schedule(func(ctx context.Context) error {
		close(started)
		return nil
	})

	select {
	case <-started:
		t.Fatal("second task started before the first settled")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, executor.Pending())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, second.Wait(ctx))
}

func TestExecutorDestroy(t *testing.T) {
	executor := NewExecutor("destroy")

	release := make(chan struct{})
	running := make(chan struct{})
	inFlight := executor.Schedule(func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})
	queued := executor.Schedule(func(ctx context.Context) error {
		t.Error("queued task ran after Destroy")
		return nil
	})

	<-running
	executor.Destroy()
	executor.Destroy()

	assert.ErrorIs(t, queued.Err(), ErrDestroyed)
	assert.ErrorIs(t, executor.Schedule(func(ctx context.Context) error { return nil }).Err(), ErrDestroyed)

	select {
	case <-inFlight.Done():
		t.Fatal("Destroy must not wait for or cancel the running task")
	default:
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, inFlight.Wait(ctx))
}
