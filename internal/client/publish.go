package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/correlation"
)

const (
	opPublish = "publish"
	opReply   = "reply"
)

// Publish sends payload to destination. Persistent delivery waits for the
// broker acknowledgment; direct delivery returns once the broker has the message.
func (c *Client) Publish(ctx context.Context, destination string, payload []byte, opts ...Option) error {
	h, err := c.manager.Current(ctx)
	if err != nil {
		return err
	}
	o := buildOptions(opts)
	msg := o.message(destination, payload)

	if msg.Delivery != broker.Persistent {
		if err := h.Broker().Send(msg); err != nil {
			return &broker.OperationError{Op: opPublish, Pattern: destination, Err: err}
		}
		return nil
	}

	msg.CorrelationKey = correlation.NewToken()
	pending := h.Pending().Register(msg.CorrelationKey)
	if err := h.Broker().Send(msg); err != nil {
		h.Pending().Discard(msg.CorrelationKey)
		return &broker.OperationError{Op: opPublish, Pattern: destination, Err: err}
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	outcome, err := pending.Wait(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return &broker.OperationError{Op: opPublish, Pattern: destination, Err: fmt.Errorf("%w after %s", broker.ErrTimeout, o.timeout)}
	case err != nil:
		return err
	case outcome.Err != nil:
		return &broker.OperationError{Op: opPublish, Pattern: destination, Err: outcome.Err}
	}
	return nil
}

// Reply answers a request received through Observe.
func (c *Client) Reply(ctx context.Context, request *broker.Message, payload []byte, opts ...Option) error {
	if request == nil || request.ReplyTo == "" {
		return ErrNoReplyTo
	}
	h, err := c.manager.Current(ctx)
	if err != nil {
		return err
	}
	o := buildOptions(opts)
	if o.correlationID == "" {
		o.correlationID = request.CorrelationID
	}
	reply := o.message(request.ReplyTo, payload)
	if err := h.Broker().SendReply(request, reply); err != nil {
		return &broker.OperationError{Op: opReply, Pattern: request.ReplyTo, Err: err}
	}
	return nil
}
