package broker

import (
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"time"
)

var (
	ErrNotSupported     = errors.New("operation not supported by transport")
	ErrSessionDisposed  = errors.New("broker session disposed")
	ErrNotConnected     = errors.New("broker session not connected")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrTimeout          = errors.New("broker operation timed out")
)

// Session is one live connection to a broker. Lifecycle and confirmation
// outcomes are reported through the Handler, not through return values; a
// returned error means the request could not be issued at all.
type Session interface {
	Connect() error
	Disconnect() error
	Dispose()

	Subscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error
	Unsubscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error

	Send(msg *Message) error
	SendRequest(msg *Message, timeout time.Duration, onReply func(*Message), onError func(error)) error
	SendReply(request *Message, reply *Message) error
}

// Factory creates a session for cfg that reports to h.
type Factory func(cfg config.Connection, h Handler) (Session, error)

// OperationError is a broker refusal of a specific operation.
type OperationError struct {
	Op      string
	Pattern string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q rejected: %v", e.Op, e.Pattern, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
