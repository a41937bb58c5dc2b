// Package nats is a broker.Session backed by nats.go, with JetStream for
// guaranteed delivery.
package nats

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"github.com/nats-io/nats.go"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const HeaderCorrelationID = "Correlation-Id"

type subscription struct {
	pattern  string
	segments []string
	queue    string
	sub      *nats.Subscription
}

type Session struct {
	cfg     config.Connection
	handler broker.Handler

	mu   sync.Mutex
	conn *nats.Conn
	js   nats.JetStreamContext
	subs map[string]*subscription

	disposed atomic.Bool
	closing  atomic.Bool
}

// NewSession is a broker.Factory for the nats transport.
func NewSession(cfg config.Connection, handler broker.Handler) (broker.Session, error) {
	return &Session{
		cfg:     cfg,
		handler: handler,
		subs:    make(map[string]*subscription),
	}, nil
}

func (s *Session) options() []nats.Option {
	cfg := s.cfg
	name := cfg.ClientID
	if name == "" {
		name = "broker-client-" + uuid.NewString()[:8]
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeoutDuration()),
		nats.MaxReconnects(cfg.ReconnectRetries()),
		nats.ReconnectWait(cfg.RetryWait()),
		nats.DisconnectErrHandler(s.onDisconnect),
		nats.ReconnectHandler(s.onReconnect),
		nats.ClosedHandler(s.onClosed),
	}
	if cfg.HasAccessToken() {
		opts = append(opts, nats.TokenHandler(func() string {
			token, err := cfg.Token()
			if err != nil {
				logger.ErrorF("[nats] %v", err)
			}
			return token
		}))
	} else if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	return opts
}

func (s *Session) emit(ev broker.Event) {
	if s.disposed.Load() {
		return
	}
	s.handler(ev)
}

func (s *Session) connection() (*nats.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		return nil, broker.ErrNotConnected
	}
	return s.conn, nil
}

func (s *Session) onDisconnect(_ *nats.Conn, err error) {
	if s.closing.Load() || s.cfg.ReconnectRetries() == 0 {
		return
	}
	s.emit(broker.Event{Kind: broker.Reconnecting, Err: err})
}

func (s *Session) onReconnect(conn *nats.Conn) {
	logger.InfoF("[nats] reconnected to %s", conn.ConnectedUrlRedacted())
	s.emit(broker.Event{Kind: broker.Reconnected})
}

func (s *Session) onClosed(conn *nats.Conn) {
	if s.closing.Load() {
		s.emit(broker.Event{Kind: broker.Disconnected})
		return
	}
	err := conn.LastError()
	if err == nil {
		err = broker.ErrRetriesExhausted
	}
	s.emit(broker.Event{Kind: broker.Down, Err: fmt.Errorf("%w: %w", broker.ErrRetriesExhausted, err)})
}

func (s *Session) Connect() error {
	if s.disposed.Load() {
		return broker.ErrSessionDisposed
	}
	go func() {
		conn, err := nats.Connect(s.cfg.URL, s.options()...)
		if err != nil {
			logger.WarnF("[nats] error occured while connecting to %s: %v", s.cfg.URL, err)
			s.emit(broker.Event{Kind: broker.ConnectFailed, Err: err})
			return
		}
		js, err := conn.JetStream()
		if err != nil {
			logger.WarnF("[nats] jetstream unavailable, persistent publish disabled: %v", err)
		}

		s.mu.Lock()
		if s.disposed.Load() {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.js = js
		s.mu.Unlock()

		logger.InfoF("[nats] connected to %s", conn.ConnectedUrlRedacted())
		s.emit(broker.Event{Kind: broker.Up})
	}()
	return nil
}

func (s *Session) Disconnect() error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	go conn.Close()
	return nil
}

func (s *Session) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.closing.Store(true)
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) Subscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error {
	subject, queue, err := Subject(pattern)
	if err != nil {
		return err
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}
	entry := &subscription{pattern: pattern, segments: topic.Split(pattern), queue: queue}
	handler := func(msg *nats.Msg) { s.onMessage(entry, msg) }

	if queue != "" {
		entry.sub, err = conn.QueueSubscribe(subject, queue, handler)
	} else {
		entry.sub, err = conn.Subscribe(subject, handler)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subs[pattern] = entry
	s.mu.Unlock()

	go func() {
		if err := flush(conn, timeout); err != nil {
			s.mu.Lock()
			if s.subs[pattern] == entry {
				delete(s.subs, pattern)
			}
			s.mu.Unlock()
			_ = entry.sub.Unsubscribe()
			s.emit(broker.Event{Kind: broker.SubscribeError, Token: token, Err: err})
			return
		}
		if requestConfirmation {
			s.emit(broker.Event{Kind: broker.SubscribeOK, Token: token})
		}
	}()
	return nil
}

func (s *Session) Unsubscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	s.mu.Lock()
	entry, ok := s.subs[pattern]
	delete(s.subs, pattern)
	s.mu.Unlock()

	if ok {
		if err := entry.sub.Unsubscribe(); err != nil {
			s.emit(broker.Event{Kind: broker.UnsubscribeError, Token: token, Err: err})
			return nil
		}
	}
	go func() {
		if err := flush(conn, timeout); err != nil {
			s.emit(broker.Event{Kind: broker.UnsubscribeError, Token: token, Err: err})
			return
		}
		if requestConfirmation {
			s.emit(broker.Event{Kind: broker.UnsubscribeOK, Token: token})
		}
	}()
	return nil
}

func flush(conn *nats.Conn, timeout time.Duration) error {
	err := conn.FlushTimeout(timeout)
	if errors.Is(err, nats.ErrTimeout) {
		return fmt.Errorf("%w: %w", broker.ErrTimeout, err)
	}
	if err != nil {
		return err
	}
	return conn.LastError()
}

// onMessage relays msg unless an overlapping plain subscription of this session
// with a smaller pattern already relays the same delivery.
func (s *Session) onMessage(entry *subscription, msg *nats.Msg) {
	t := Topic(msg.Subject)
	if entry.queue == "" && s.owner(t) != entry.pattern {
		return
	}
	s.emit(broker.Event{Kind: broker.MessageReceived, Message: fromNATS(msg)})
}

func (s *Session) owner(t string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []string
	for pattern, entry := range s.subs {
		if entry.queue == "" && topic.Match(entry.segments, t) {
			matching = append(matching, pattern)
		}
	}
	if len(matching) == 0 {
		return ""
	}
	sort.Strings(matching)
	return matching[0]
}

func (s *Session) Send(msg *broker.Message) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	out := toNATS(msg)
	if msg.Delivery != broker.Persistent {
		return conn.PublishMsg(out)
	}

	s.mu.Lock()
	js := s.js
	s.mu.Unlock()
	if js == nil {
		return fmt.Errorf("%w: persistent delivery needs jetstream", broker.ErrNotSupported)
	}
	future, err := js.PublishMsgAsync(out)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-future.Ok():
			s.emit(broker.Event{Kind: broker.Acknowledged, Token: msg.CorrelationKey})
		case err := <-future.Err():
			s.emit(broker.Event{Kind: broker.Rejected, Token: msg.CorrelationKey, Err: err})
		}
	}()
	return nil
}

func (s *Session) SendRequest(msg *broker.Message, timeout time.Duration, onReply func(*broker.Message), onError func(error)) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	go func() {
		reply, err := conn.RequestMsg(toNATS(msg), timeout)
		switch {
		case errors.Is(err, nats.ErrTimeout):
			onError(fmt.Errorf("%w: %w", broker.ErrTimeout, err))
		case err != nil:
			onError(err)
		default:
			onReply(fromNATS(reply))
		}
	}()
	return nil
}

func (s *Session) SendReply(request *broker.Message, reply *broker.Message) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if request.ReplyTo == "" {
		return errors.New("request has no reply destination")
	}
	out := *reply
	if out.CorrelationID == "" {
		out.CorrelationID = request.CorrelationID
	}
	msg := toNATS(&out)
	msg.Subject = request.ReplyTo
	return conn.PublishMsg(msg)
}

func toNATS(msg *broker.Message) *nats.Msg {
	out := nats.NewMsg(Destination(msg.Destination))
	out.Data = msg.Payload
	for k, v := range msg.Headers {
		out.Header.Set(k, v)
	}
	if msg.CorrelationID != "" {
		out.Header.Set(HeaderCorrelationID, msg.CorrelationID)
	}
	if msg.Delivery == broker.Persistent && msg.CorrelationKey != "" {
		out.Header.Set(nats.MsgIdHdr, msg.CorrelationKey)
	}
	return out
}

func fromNATS(msg *nats.Msg) *broker.Message {
	out := &broker.Message{
		Destination: Topic(msg.Subject),
		Payload:     msg.Data,
		ReplyTo:     msg.Reply,
	}
	if len(msg.Header) > 0 {
		out.Headers = make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			out.Headers[k] = msg.Header.Get(k)
		}
		out.CorrelationID = msg.Header.Get(HeaderCorrelationID)
	}
	return out
}
