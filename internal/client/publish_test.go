package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker/brokertest"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/correlation"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDirect(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)

	err := c.Publish(ctx, "orders/new", []byte("{}"), WithHeaders(map[string]string{"kind": "order"}), WithCorrelationID("c-1"))
	require.NoError(t, err)

	calls := fake.Calls(brokertest.OpSend)
	require.Len(t, calls, 1)
	msg := calls[0].Message
	assert.Equal(t, "orders/new", msg.Destination)
	assert.Equal(t, broker.Direct, msg.Delivery)
	assert.Equal(t, "order", msg.Header("kind"))
	assert.Equal(t, "c-1", msg.CorrelationID)
	assert.Empty(t, msg.CorrelationKey)
}

func TestPublishPersistentWaitsForAcknowledgment(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)

	require.NoError(t, c.Publish(ctx, "orders/new", []byte("{}"), WithDelivery(broker.Persistent)))
	assert.NotEmpty(t, fake.LastToken(brokertest.OpSend))
}

func TestPublishPersistentRejected(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)
	fake.Configure(func(f *brokertest.Fake) { f.AutoAck = false })

	result := make(chan error, 1)
	go func() {
		result <- c.Publish(ctx, "orders/new", nil, WithDelivery(broker.Persistent))
	}()
	require.Eventually(t, func() bool { return fake.Count(brokertest.OpSend) == 1 }, wait, time.Millisecond)

	full := errors.New("queue full")
	fake.Emit(broker.Event{Kind: broker.Rejected, Token: fake.LastToken(brokertest.OpSend), Err: full})

	err := <-result
	assert.ErrorIs(t, err, full)
	var opErr *broker.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "publish", opErr.Op)
}

func TestPublishPersistentTimeout(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)
	fake.Configure(func(f *brokertest.Fake) { f.AutoAck = false })

	err := c.Publish(ctx, "orders/new", nil, WithDelivery(broker.Persistent), WithTimeout(20*time.Millisecond))
	assert.ErrorIs(t, err, broker.ErrTimeout)
}

func TestPublishAbandonedOnSessionDeath(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)
	fake.Configure(func(f *brokertest.Fake) { f.AutoAck = false })

	result := make(chan error, 1)
	go func() {
		result <- c.Publish(ctx, "orders/new", nil, WithDelivery(broker.Persistent))
	}()
	require.Eventually(t, func() bool { return fake.Count(brokertest.OpSend) == 1 }, wait, time.Millisecond)
	fake.Emit(broker.Event{Kind: broker.Down})

	assert.ErrorIs(t, <-result, correlation.ErrAbandoned)
}

func TestPublishNotConnected(t *testing.T) {
	c := New("idle", brokertest.New().Factory)
	err := c.Publish(context.Background(), "a", nil)
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestRequestReceivesSingleReply(t *testing.T) {
	fake := brokertest.New()
	fake.OnRequest = func(msg *broker.Message) (*broker.Message, error) {
		return &broker.Message{Destination: "inbox/1", Payload: append([]byte("re: "), msg.Payload...)}, nil
	}
	c, ctx := connected(t, fake)

	reply := c.Request(ctx, "service/echo", []byte("ping"))
	env, err := reply.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "re: ping", string(env.Payload()))

	select {
	case _, ok := <-reply.C():
		assert.False(t, ok)
	case <-time.After(wait):
		t.Fatal("reply stream did not complete")
	}
	assert.NoError(t, reply.Err())
}

func TestRequestTimeout(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)

	reply := c.Request(ctx, "service/slow", nil, WithTimeout(20*time.Millisecond))
	_, err := reply.Await(ctx)
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, 20*time.Millisecond, fake.Calls(brokertest.OpRequest)[0].Timeout)
}

func TestRequestBrokerError(t *testing.T) {
	fake := brokertest.New()
	unreachable := errors.New("no responders")
	fake.OnRequest = func(*broker.Message) (*broker.Message, error) { return nil, unreachable }
	c, ctx := connected(t, fake)

	_, err := c.Request(ctx, "service/none", nil).Await(ctx)
	assert.ErrorIs(t, err, unreachable)
}

func TestRequestCompletesOnSessionDeath(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)

	reply := c.Request(ctx, "service/slow", nil)
	require.Eventually(t, func() bool { return fake.Count(brokertest.OpRequest) == 1 }, wait, time.Millisecond)
	require.NoError(t, c.Disconnect(ctx))

	env, err := reply.Await(ctx)
	assert.NoError(t, err)
	assert.Nil(t, env)
}

func TestReply(t *testing.T) {
	fake := brokertest.New()
	c, ctx := connected(t, fake)

	assert.ErrorIs(t, c.Reply(ctx, &broker.Message{Destination: "x"}, nil), ErrNoReplyTo)

	request := &broker.Message{Destination: "service/echo", ReplyTo: "inbox/42", CorrelationID: "req-7"}
	require.NoError(t, c.Reply(ctx, request, []byte("pong")))

	calls := fake.Calls(brokertest.OpReply)
	require.Len(t, calls, 1)
	assert.Equal(t, "inbox/42", calls[0].Pattern)
	assert.Equal(t, "inbox/42", calls[0].Message.Destination)
	assert.Equal(t, "req-7", calls[0].Message.CorrelationID)
	assert.Equal(t, "pong", string(calls[0].Message.Payload))
}
