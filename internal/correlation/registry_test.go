package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		token := NewToken()
		if _, ok := seen[token]; ok {
			t.Fatalf("duplicate token %s", token)
		}
		seen[token] = struct{}{}
	}
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	pending := registry.Register("t1")
	require.Equal(t, 1, registry.Len())

	reply := &broker.Message{Destination: "reply"}
	assert.True(t, registry.Resolve("t1", Outcome{Message: reply}))
	assert.False(t, registry.Resolve("t1", Outcome{}), "a token settles once")
	assert.Equal(t, 0, registry.Len())

	outcome, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, reply, outcome.Message)
}

func TestRegistryResolveRejection(t *testing.T) {
	registry := NewRegistry()
	pending := registry.Register("t1")
	rejected := errors.New("not allowed")

	registry.Resolve("t1", Outcome{Err: rejected})
	outcome, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Err, rejected)
}

func TestRegistryAbandonAll(t *testing.T) {
	registry := NewRegistry()
	first := registry.Register("a")
	second := registry.Register("b")

	assert.Equal(t, 2, registry.AbandonAll())
	assert.Equal(t, 0, registry.Len())

	_, err := first.Wait(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)
	_, err = second.Wait(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)

	late := registry.Register("c")
	_, err = late.Wait(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.False(t, registry.Resolve("c", Outcome{}))
}

func TestPendingWaitTimeoutDiscards(t *testing.T) {
	registry := NewRegistry()
	pending := registry.Register("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, registry.Len())
	assert.False(t, registry.Resolve("slow", Outcome{}))
}
