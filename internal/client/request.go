package client

import (
	"context"
	"errors"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/stream"
	"sync"
	"time"
)

const opRequest = "request"

// Reply is the single-shot result of Request: at most one envelope, then the
// stream ends. It ends without a value when the session ends first.
type Reply struct {
	out *stream.Stream[*Envelope]
}

func (r *Reply) C() <-chan *Envelope {
	return r.out.C()
}

func (r *Reply) Done() <-chan struct{} {
	return r.out.Done()
}

func (r *Reply) Err() error {
	return r.out.Err()
}

// Cancel abandons the request locally.
func (r *Reply) Cancel() {
	r.out.Cancel()
}

// Await blocks for the reply. It returns nil, nil when the session ended
// before a reply arrived.
func (r *Reply) Await(ctx context.Context) (*Envelope, error) {
	select {
	case env, ok := <-r.out.C():
		if ok {
			return env, nil
		}
		return nil, r.out.Err()
	case <-ctx.Done():
		r.out.Cancel()
		return nil, ctx.Err()
	}
}

type requestResult struct {
	msg *broker.Message
	err error
}

// Request sends payload to destination and waits up to the request timeout for the reply.
func (c *Client) Request(ctx context.Context, destination string, payload []byte, opts ...Option) *Reply {
	o := buildOptions(opts)
	reply := &Reply{out: stream.New[*Envelope]()}

	go func() {
		h, err := c.manager.Current(ctx)
		if err != nil {
			reply.out.Fail(err)
			return
		}

		results := make(chan requestResult, 1)
		var once sync.Once
		settle := func(r requestResult) {
			once.Do(func() { results <- r })
		}

		msg := o.message(destination, payload)
		err = h.Broker().SendRequest(msg, o.timeout,
			func(m *broker.Message) { settle(requestResult{msg: m}) },
			func(err error) { settle(requestResult{err: err}) },
		)
		if err != nil {
			reply.out.Fail(&broker.OperationError{Op: opRequest, Pattern: destination, Err: err})
			return
		}

		timer := time.NewTimer(o.timeout)
		defer timer.Stop()
		select {
		case r := <-results:
			if r.err != nil {
				if errors.Is(r.err, broker.ErrTimeout) {
					reply.out.Fail(ErrRequestTimeout)
					return
				}
				reply.out.Fail(&broker.OperationError{Op: opRequest, Pattern: destination, Err: r.err})
				return
			}
			reply.out.Push(newEnvelope(r.msg, nil))
			reply.out.Complete()
		case <-timer.C:
			reply.out.Fail(ErrRequestTimeout)
		case <-h.Done():
			reply.out.Complete()
		case <-ctx.Done():
			reply.out.Fail(ctx.Err())
		case <-reply.out.Done():
		}
	}()
	return reply
}
