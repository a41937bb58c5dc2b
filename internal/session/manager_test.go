package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/brokertest"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/correlation"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func loopbackConfig() config.Connection {
	return config.Connection{Name: "test", Transport: config.TransportLoopback}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func next(t *testing.T, w *Watch) bool {
	t.Helper()
	select {
	case v, ok := <-w.C():
		require.True(t, ok, "watch closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection state")
		return false
	}
}

func quiet(t *testing.T, w *Watch) {
	t.Helper()
	select {
	case v, ok := <-w.C():
		if ok {
			t.Fatalf("unexpected connection state %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectResolvesOnUp(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("up", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, StatusConnected, m.Status())

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, Disposed, m.State())
	assert.True(t, h.Disposed())
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("invalid", fake.Factory)

	_, err := m.Connect(testContext(t), config.Connection{Transport: config.TransportMQTT})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0, fake.Created())
	assert.Equal(t, Uninitialized, m.State())
}

func TestConnectIsIdempotent(t *testing.T) {
	fake := brokertest.New()
	fake.AutoUp = false
	m := NewManager("idempotent", fake.Factory)
	ctx := testContext(t)

	var wg sync.WaitGroup
	handles := make([]*Handle, 4)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Connect(ctx, loopbackConfig())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}

	require.Eventually(t, func() bool { return fake.Count(brokertest.OpConnect) == 1 }, time.Second, time.Millisecond)
	fake.Emit(broker.Event{Kind: broker.Up})
	wg.Wait()

	assert.Equal(t, 1, fake.Created())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	require.NoError(t, m.Disconnect(ctx))
}

func TestConnectFailureDisposesHandle(t *testing.T) {
	fake := brokertest.New()
	refused := errors.New("connection refused")
	fake.ConnectError = refused
	m := NewManager("refused", fake.Factory)
	ctx := testContext(t)

	_, err := m.Connect(ctx, loopbackConfig())
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), refused.Error())

	assert.Eventually(t, func() bool { return m.State() == Disposed }, time.Second, time.Millisecond)
	assert.Equal(t, 1, fake.Count(brokertest.OpDispose))

	_, err = m.Current(ctx)
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestCurrentBeforeConnect(t *testing.T) {
	m := NewManager("idle", brokertest.New().Factory)
	_, err := m.Current(testContext(t))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCurrentWaitsForInFlightConnect(t *testing.T) {
	fake := brokertest.New()
	fake.AutoUp = false
	m := NewManager("inflight", fake.Factory)
	ctx := testContext(t)

	go func() {
		_, _ = m.Connect(ctx, loopbackConfig())
	}()
	require.Eventually(t, func() bool { return fake.Count(brokertest.OpConnect) == 1 }, time.Second, time.Millisecond)

	result := make(chan *Handle, 1)
	go func() {
		h, err := m.Current(ctx)
		assert.NoError(t, err)
		result <- h
	}()

	fake.Emit(broker.Event{Kind: broker.Up})
	select {
	case h := <-result:
		assert.NotNil(t, h)
	case <-time.After(time.Second):
		t.Fatal("current did not resolve")
	}
	require.NoError(t, m.Disconnect(ctx))
}

func TestDisconnectWithoutHandleIsNoop(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("noop", fake.Factory)
	require.NoError(t, m.Disconnect(testContext(t)))
	assert.Empty(t, fake.Ops())
}

func TestConnectWhileDisconnecting(t *testing.T) {
	fake := brokertest.New()
	fake.AutoDisconnect = false
	m := NewManager("closing", fake.Factory)
	ctx := testContext(t)

	_, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Disconnect(ctx) }()
	require.Eventually(t, func() bool { return m.State() == Disconnecting }, time.Second, time.Millisecond)

	_, err = m.Connect(ctx, loopbackConfig())
	assert.ErrorIs(t, err, ErrDisconnecting)

	fake.Emit(broker.Event{Kind: broker.Disconnected})
	require.NoError(t, <-done)
	assert.Equal(t, Disposed, m.State())
}

func TestDisposalReleasesResources(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("dispose", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)

	h.Counter().IncrementAndGet("a/b")
	pending := h.Pending().Register(correlation.NewToken())
	block := make(chan struct{})
	h.Executor().Schedule(func(ctx context.Context) error { <-block; return nil })
	queued := h.Executor().Schedule(func(ctx context.Context) error { return nil })

	fake.Emit(broker.Event{Kind: broker.Down, Err: errors.New("kicked")})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle not disposed")
	}
	close(block)

	assert.Equal(t, 0, h.Counter().Len())
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, correlation.ErrAbandoned)
	assert.ErrorIs(t, queued.Wait(ctx), serial.ErrDestroyed)
	assert.Equal(t, 1, fake.Count(brokertest.OpDispose))
	assert.Equal(t, Disposed, m.State())

	_, err = m.Current(ctx)
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestReconnectDoesNotDispose(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("reconnect", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)

	w := m.ConnectionState()
	defer w.Cancel()
	assert.True(t, next(t, w))

	fake.Emit(broker.Event{Kind: broker.Reconnecting})
	assert.False(t, next(t, w))
	assert.Equal(t, Reconnecting, m.State())
	assert.Equal(t, StatusConnecting, m.Status())

	fake.Emit(broker.Event{Kind: broker.Reconnected})
	assert.True(t, next(t, w))
	assert.Equal(t, Connected, m.State())
	assert.False(t, h.Disposed())
	assert.Equal(t, 0, fake.Count(brokertest.OpDispose))

	require.NoError(t, m.Disconnect(ctx))
	assert.False(t, next(t, w))
}

func TestConnectionStateReplaysLatestValue(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("late", fake.Factory)
	ctx := testContext(t)

	early := m.ConnectionState()
	defer early.Cancel()
	assert.False(t, next(t, early))

	_, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	assert.True(t, next(t, early))

	late := m.ConnectionState()
	assert.True(t, next(t, late))
	late.Cancel()
	assert.Eventually(t, func() bool { return m.status.len() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Disconnect(ctx))
}

func TestCorrelatedEventsResolvePending(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("relay", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)

	ok := h.Pending().Register("ok")
	rejected := h.Pending().Register("rejected")
	fake.Emit(broker.Event{Kind: broker.SubscribeOK, Token: "ok"})
	fake.Emit(broker.Event{Kind: broker.SubscribeError, Token: "rejected"})

	outcome, err := ok.Wait(ctx)
	require.NoError(t, err)
	assert.NoError(t, outcome.Err)

	outcome, err = rejected.Wait(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Err, ErrRejected)

	require.NoError(t, m.Disconnect(ctx))
}

func TestNewGenerationAfterDisposal(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("generations", fake.Factory)
	ctx := testContext(t)

	first, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(ctx))

	second, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, fake.Created())
	require.NoError(t, m.Disconnect(ctx))
}

func TestConnectionStateSkipsRepeatedValues(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("dedup", fake.Factory)
	ctx := testContext(t)

	_, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	w := m.ConnectionState()
	defer w.Cancel()
	assert.True(t, next(t, w))

	fake.Emit(broker.Event{Kind: broker.Reconnected})
	quiet(t, w)

	fake.Emit(broker.Event{Kind: broker.Reconnecting})
	assert.False(t, next(t, w))
	fake.Emit(broker.Event{Kind: broker.Reconnecting})
	quiet(t, w)

	fake.Emit(broker.Event{Kind: broker.Reconnected})
	assert.True(t, next(t, w))
	fake.Emit(broker.Event{Kind: broker.Reconnected})
	quiet(t, w)

	require.NoError(t, m.Disconnect(ctx))
	assert.False(t, next(t, w))
	quiet(t, w)
}

func TestUpDuringDisconnectIsNotReported(t *testing.T) {
	fake := brokertest.New()
	fake.AutoUp = false
	fake.AutoDisconnect = false
	m := NewManager("late-up", fake.Factory)
	ctx := testContext(t)

	w := m.ConnectionState()
	defer w.Cancel()
	assert.False(t, next(t, w))

	connected := make(chan error, 1)
	go func() {
		_, err := m.Connect(ctx, loopbackConfig())
		connected <- err
	}()
	require.Eventually(t, func() bool { return m.State() == Connecting }, time.Second, time.Millisecond)

	disconnected := make(chan error, 1)
	go func() { disconnected <- m.Disconnect(ctx) }()
	require.Eventually(t, func() bool { return m.State() == Disconnecting }, time.Second, time.Millisecond)

	fake.Emit(broker.Event{Kind: broker.Up})
	assert.ErrorIs(t, <-connected, ErrDisconnecting)
	quiet(t, w)
	assert.Equal(t, Disconnecting, m.State())

	fake.Emit(broker.Event{Kind: broker.Disconnected})
	require.NoError(t, <-disconnected)
	assert.Equal(t, Disposed, m.State())
	quiet(t, w)
}

func TestDisconnectDisposesLocallyWhenBrokerRefuses(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("refused", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	fake.Configure(func(f *brokertest.Fake) { f.DisconnectError = broker.ErrNotConnected })

	require.NoError(t, m.Disconnect(ctx))
	assert.True(t, h.Disposed())
	assert.Equal(t, Disposed, m.State())
	assert.Equal(t, 1, fake.Count(brokertest.OpDispose))
	assert.False(t, m.Connected())
}

func TestAwaitOnlineFollowsReconnects(t *testing.T) {
	fake := brokertest.New()
	m := NewManager("online", fake.Factory)
	ctx := testContext(t)

	h, err := m.Connect(ctx, loopbackConfig())
	require.NoError(t, err)
	epoch, err := h.AwaitOnline(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epoch)

	fake.Emit(broker.Event{Kind: broker.Reconnecting})
	require.Eventually(t, func() bool { return m.State() == Reconnecting }, time.Second, time.Millisecond)

	online := make(chan uint64, 1)
	go func() {
		epoch, _ := h.AwaitOnline(ctx, 0)
		online <- epoch
	}()
	select {
	case <-online:
		t.Fatal("handle reported online while reconnecting")
	case <-time.After(30 * time.Millisecond):
	}

	fake.Emit(broker.Event{Kind: broker.Reconnected})
	select {
	case epoch := <-online:
		assert.Equal(t, uint64(2), epoch)
	case <-time.After(time.Second):
		t.Fatal("handle not online after reconnect")
	}

	waiting := make(chan error, 1)
	go func() {
		_, err := h.AwaitOnline(ctx, 2)
		waiting <- err
	}()
	require.NoError(t, m.Disconnect(ctx))
	assert.ErrorIs(t, <-waiting, ErrSessionEnded)
}
