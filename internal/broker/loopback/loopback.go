// Package loopback is an in-process broker. Sessions created from the same Hub
// see each other's messages, which makes it suitable for demos and tests.
package loopback

import (
	"errors"
	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/topic"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	inboxPrefix = "_INBOX/"
	sharePrefix = "#share/"
)

var ErrNoResponders = errors.New("no responders for request")

type waiter struct {
	onReply func(*broker.Message)
	onError func(error)
	timer   *time.Timer
}

// Hub is the shared state of every loopback session it created.
type Hub struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	denied   map[string]error
	waiters  map[string]*waiter
	cursor   map[string]int
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		denied:   make(map[string]error),
		waiters:  make(map[string]*waiter),
		cursor:   make(map[string]int),
	}
}

// Factory is a broker.Factory bound to h.
func (h *Hub) Factory(cfg config.Connection, handler broker.Handler) (broker.Session, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "loopback-" + uuid.NewString()[:8]
	}
	return &Session{
		hub:           h,
		clientID:      clientID,
		handler:       handler,
		subscriptions: make(map[string][]string),
	}, nil
}

// Deny makes subscribe attempts on pattern fail with err. A nil err lifts the denial.
func (h *Hub) Deny(pattern string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.denied, pattern)
		return
	}
	h.denied[pattern] = err
}

// Interrupt simulates a transient network failure on every connected session.
func (h *Hub) Interrupt() {
	for _, s := range h.connected() {
		s.emit(broker.Event{Kind: broker.Reconnecting, Err: errors.New("loopback interrupted")})
		s.emit(broker.Event{Kind: broker.Reconnected})
	}
}

// Kill ends every connected session as if reconnect retries were exhausted.
func (h *Hub) Kill() {
	for _, s := range h.connected() {
		s.setConnected(false)
		s.emit(broker.Event{Kind: broker.Down, Err: broker.ErrRetriesExhausted})
	}
}

func (h *Hub) Sessions() int {
	return len(h.connected())
}

func (h *Hub) connected() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].clientID < result[j].clientID })
	return result
}

func (h *Hub) join(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

func (h *Hub) leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

func (h *Hub) deniedErr(pattern string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denied[pattern]
}

// route delivers msg once to every session with a matching subscription. Shared
// subscriptions receive it on one member per group, chosen round robin.
func (h *Hub) route(msg *broker.Message) int {
	if strings.HasPrefix(msg.Destination, inboxPrefix) && h.answer(msg) {
		return 1
	}

	var targets []*Session
	groups := make(map[string][]*Session)
	for _, s := range h.connected() {
		direct, shared := s.matches(msg.Destination)
		if direct {
			targets = append(targets, s)
		}
		for _, group := range shared {
			groups[group] = append(groups[group], s)
		}
	}

	h.mu.Lock()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		members := groups[name]
		pick := members[h.cursor[name]%len(members)]
		h.cursor[name]++
		if !containsSession(targets, pick) {
			targets = append(targets, pick)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.emit(broker.Event{Kind: broker.MessageReceived, Message: msg})
	}
	return len(targets)
}

func containsSession(sessions []*Session, s *Session) bool {
	for _, candidate := range sessions {
		if candidate == s {
			return true
		}
	}
	return false
}

func (h *Hub) await(inbox string, timeout time.Duration, onReply func(*broker.Message), onError func(error)) {
	w := &waiter{onReply: onReply, onError: onError}
	h.mu.Lock()
	h.waiters[inbox] = w
	h.mu.Unlock()

	w.timer = time.AfterFunc(timeout, func() {
		if h.takeWaiter(inbox) != nil {
			onError(broker.ErrTimeout)
		}
	})
}

func (h *Hub) takeWaiter(inbox string) *waiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.waiters[inbox]
	if !ok {
		return nil
	}
	delete(h.waiters, inbox)
	return w
}

func (h *Hub) fail(inbox string, err error) {
	if w := h.takeWaiter(inbox); w != nil {
		w.timer.Stop()
		w.onError(err)
	}
}

func (h *Hub) answer(reply *broker.Message) bool {
	w := h.takeWaiter(reply.Destination)
	if w == nil {
		return false
	}
	w.timer.Stop()
	w.onReply(reply)
	return true
}

// Session is one client connection to a Hub.
type Session struct {
	hub      *Hub
	clientID string
	handler  broker.Handler

	mu            sync.Mutex
	connected     bool
	disposed      bool
	subscriptions map[string][]string
}

func (s *Session) emit(ev broker.Event) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if !disposed {
		s.handler(ev)
	}
}

func (s *Session) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	if connected {
		s.hub.join(s)
		return
	}
	s.hub.leave(s)
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// matches reports whether a plain subscription matches destination, and the
// share groups whose pattern matches it.
func (s *Session) matches(destination string) (direct bool, groups []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pattern, segments := range s.subscriptions {
		if !topic.Match(segments, destination) {
			continue
		}
		if group, ok := shareGroup(pattern); ok {
			groups = append(groups, group)
			continue
		}
		direct = true
	}
	return direct, groups
}

// shareGroup returns the group key of a "#share/<name>/..." pattern.
func shareGroup(pattern string) (string, bool) {
	if !strings.HasPrefix(pattern, sharePrefix) {
		return "", false
	}
	return pattern, true
}

func (s *Session) Connect() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return broker.ErrSessionDisposed
	}
	s.mu.Unlock()

	s.setConnected(true)
	logger.DebugF("[loopback] %s connected", s.clientID)
	s.emit(broker.Event{Kind: broker.Up})
	return nil
}

func (s *Session) Disconnect() error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	s.setConnected(false)
	s.emit(broker.Event{Kind: broker.Disconnected})
	return nil
}

func (s *Session) Dispose() {
	s.setConnected(false)
	s.mu.Lock()
	s.disposed = true
	s.subscriptions = make(map[string][]string)
	s.mu.Unlock()
}

func (s *Session) Subscribe(pattern string, requestConfirmation bool, token string, _ time.Duration) error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	if err := s.hub.deniedErr(pattern); err != nil {
		s.emit(broker.Event{Kind: broker.SubscribeError, Token: token, Err: err})
		return nil
	}
	s.mu.Lock()
	s.subscriptions[pattern] = topic.Split(pattern)
	s.mu.Unlock()
	if requestConfirmation {
		s.emit(broker.Event{Kind: broker.SubscribeOK, Token: token})
	}
	return nil
}

func (s *Session) Unsubscribe(pattern string, requestConfirmation bool, token string, _ time.Duration) error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	s.mu.Lock()
	delete(s.subscriptions, pattern)
	s.mu.Unlock()
	if requestConfirmation {
		s.emit(broker.Event{Kind: broker.UnsubscribeOK, Token: token})
	}
	return nil
}

func (s *Session) Send(msg *broker.Message) error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	s.hub.route(msg)
	if msg.Delivery == broker.Persistent {
		s.emit(broker.Event{Kind: broker.Acknowledged, Token: msg.CorrelationKey})
	}
	return nil
}

func (s *Session) SendRequest(msg *broker.Message, timeout time.Duration, onReply func(*broker.Message), onError func(error)) error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	request := *msg
	request.ReplyTo = inboxPrefix + uuid.NewString()
	if request.CorrelationID == "" {
		request.CorrelationID = uuid.NewString()
	}
	s.hub.await(request.ReplyTo, timeout, onReply, onError)
	if s.hub.route(&request) == 0 {
		s.hub.fail(request.ReplyTo, ErrNoResponders)
	}
	return nil
}

func (s *Session) SendReply(request *broker.Message, reply *broker.Message) error {
	if !s.isConnected() {
		return broker.ErrNotConnected
	}
	if request.ReplyTo == "" {
		return errors.New("request has no reply destination")
	}
	out := *reply
	out.Destination = request.ReplyTo
	if out.CorrelationID == "" {
		out.CorrelationID = request.CorrelationID
	}
	s.hub.route(&out)
	return nil
}
