// Package mqtt is a broker.Session backed by the Eclipse Paho MQTT client.
package mqtt

import (
	"errors"
	"fmt"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"sync"
	"sync/atomic"
	"time"
)

const (
	qosDirect     byte = 0
	qosPersistent byte = 1
	subscribeQoS  byte = 1
	// subackFailure is the SUBACK return code for a refused filter.
	subackFailure byte = 0x80
	quiesce            = 250
)

var ErrSubscriptionRefused = errors.New("subscription refused by broker")

type Session struct {
	cfg     config.Connection
	handler broker.Handler
	client  paho.Client

	mu          sync.Mutex
	established bool
	active      map[string]struct{}
	attempts    int

	disposed atomic.Bool
	closing  atomic.Bool
}

// NewSession is a broker.Factory for the mqtt transport.
func NewSession(cfg config.Connection, handler broker.Handler) (broker.Session, error) {
	s := &Session{
		cfg:     cfg,
		handler: handler,
		active:  make(map[string]struct{}),
	}
	s.client = paho.NewClient(s.options())
	return s, nil
}

func (s *Session) options() *paho.ClientOptions {
	cfg := s.cfg
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "broker-client-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(cfg.ConnectTimeoutDuration()).
		SetConnectRetry(false).
		SetAutoReconnect(cfg.ReconnectRetries() != 0).
		SetMaxReconnectInterval(cfg.RetryWait()).
		SetResumeSubs(false).
		SetDefaultPublishHandler(s.onMessage).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(s.onReconnecting)

	if cfg.HasAccessToken() {
		opts.SetCredentialsProvider(func() (string, string) {
			token, err := cfg.Token()
			if err != nil {
				logger.ErrorF("[mqtt] %v", err)
			}
			return cfg.Username, token
		})
	} else {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	return opts
}

func (s *Session) emit(ev broker.Event) {
	if s.disposed.Load() {
		return
	}
	s.handler(ev)
}

func (s *Session) onConnect(_ paho.Client) {
	s.mu.Lock()
	reconnect := s.established
	s.established = true
	s.attempts = 0
	var patterns []string
	if reconnect && s.cfg.ReapplySubscriptions() {
		for pattern := range s.active {
			patterns = append(patterns, pattern)
		}
	}
	s.mu.Unlock()

	if !reconnect {
		logger.InfoF("[mqtt] connected to %s", s.cfg.URL)
		s.emit(broker.Event{Kind: broker.Up})
		return
	}

	for _, pattern := range patterns {
		filter := Filter(pattern)
		if token := s.client.Subscribe(filter, subscribeQoS, nil); token.WaitTimeout(s.cfg.ConnectTimeoutDuration()) && token.Error() != nil {
			logger.WarnF("[mqtt] error occured while reapplying subscription %s: %v", filter, token.Error())
		}
	}
	logger.InfoF("[mqtt] reconnected to %s, %d subscription(s) reapplied", s.cfg.URL, len(patterns))
	s.emit(broker.Event{Kind: broker.Reconnected})
}

func (s *Session) onConnectionLost(_ paho.Client, err error) {
	if s.closing.Load() {
		return
	}
	if s.cfg.ReconnectRetries() == 0 {
		s.emit(broker.Event{Kind: broker.Down, Err: err})
		return
	}
	s.emit(broker.Event{Kind: broker.Reconnecting, Err: err})
}

func (s *Session) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	retries := s.cfg.ReconnectRetries()
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	logger.DebugF("[mqtt] reconnect attempt %d to %s", attempts, s.cfg.URL)
	if retries == config.InfiniteRetries || attempts <= retries {
		return
	}
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		s.client.Disconnect(0)
		s.emit(broker.Event{Kind: broker.Down, Err: fmt.Errorf("%w after %d attempt(s)", broker.ErrRetriesExhausted, retries)})
	}()
}

func (s *Session) onMessage(_ paho.Client, msg paho.Message) {
	s.emit(broker.Event{Kind: broker.MessageReceived, Message: &broker.Message{
		Destination: msg.Topic(),
		Payload:     msg.Payload(),
		Delivery:    deliveryOf(msg.Qos()),
	}})
}

func deliveryOf(qos byte) broker.Delivery {
	if qos > qosDirect {
		return broker.Persistent
	}
	return broker.Direct
}

func (s *Session) Connect() error {
	if s.disposed.Load() {
		return broker.ErrSessionDisposed
	}
	token := s.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			logger.WarnF("[mqtt] error occured while connecting to %s: %v", s.cfg.URL, err)
			s.emit(broker.Event{Kind: broker.ConnectFailed, Err: err})
		}
	}()
	return nil
}

func (s *Session) Disconnect() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		s.client.Disconnect(quiesce)
		s.emit(broker.Event{Kind: broker.Disconnected})
	}()
	return nil
}

func (s *Session) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.closing.Store(true)
	s.client.Disconnect(0)
	s.mu.Lock()
	s.active = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *Session) Subscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error {
	if !s.client.IsConnectionOpen() {
		return broker.ErrNotConnected
	}
	filter := Filter(pattern)
	pending := s.client.Subscribe(filter, subscribeQoS, nil)
	go func() {
		err := waitToken(pending, timeout)
		if err == nil {
			if sub, ok := pending.(*paho.SubscribeToken); ok && sub.Result()[filter] == subackFailure {
				err = ErrSubscriptionRefused
			}
		}
		if err != nil {
			s.emit(broker.Event{Kind: broker.SubscribeError, Token: token, Err: err})
			return
		}
		s.mu.Lock()
		s.active[pattern] = struct{}{}
		s.mu.Unlock()
		if requestConfirmation {
			s.emit(broker.Event{Kind: broker.SubscribeOK, Token: token})
		}
	}()
	return nil
}

func (s *Session) Unsubscribe(pattern string, requestConfirmation bool, token string, timeout time.Duration) error {
	s.mu.Lock()
	delete(s.active, pattern)
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		return broker.ErrNotConnected
	}
	pending := s.client.Unsubscribe(Filter(pattern))
	go func() {
		if err := waitToken(pending, timeout); err != nil {
			s.emit(broker.Event{Kind: broker.UnsubscribeError, Token: token, Err: err})
			return
		}
		if requestConfirmation {
			s.emit(broker.Event{Kind: broker.UnsubscribeOK, Token: token})
		}
	}()
	return nil
}

// Send publishes msg. MQTT 3.1.1 has no message headers, so Headers are not transmitted.
func (s *Session) Send(msg *broker.Message) error {
	if !s.client.IsConnectionOpen() {
		return broker.ErrNotConnected
	}
	if len(msg.Headers) > 0 {
		logger.DebugF("[mqtt] headers dropped on %s", msg.Destination)
	}
	if msg.Delivery != broker.Persistent {
		s.client.Publish(msg.Destination, qosDirect, false, msg.Payload)
		return nil
	}

	pending := s.client.Publish(msg.Destination, qosPersistent, false, msg.Payload)
	go func() {
		<-pending.Done()
		if err := pending.Error(); err != nil {
			s.emit(broker.Event{Kind: broker.Rejected, Token: msg.CorrelationKey, Err: err})
			return
		}
		s.emit(broker.Event{Kind: broker.Acknowledged, Token: msg.CorrelationKey})
	}()
	return nil
}

// SendRequest is not available: MQTT 3.1.1 carries no reply address.
func (s *Session) SendRequest(_ *broker.Message, _ time.Duration, _ func(*broker.Message), _ func(error)) error {
	return broker.ErrNotSupported
}

func (s *Session) SendReply(request *broker.Message, reply *broker.Message) error {
	if request.ReplyTo == "" {
		return errors.New("request has no reply destination")
	}
	out := *reply
	out.Destination = request.ReplyTo
	return s.Send(&out)
}

func waitToken(token paho.Token, timeout time.Duration) error {
	if timeout <= 0 {
		token.Wait()
		return token.Error()
	}
	if !token.WaitTimeout(timeout) {
		return broker.ErrTimeout
	}
	return token.Error()
}
