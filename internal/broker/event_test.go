package broker

import (
	"errors"
	"testing"
)

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind   EventKind
		expect string
	}{
		{Up, "UP"},
		{Down, "DOWN"},
		{SubscribeError, "SUBSCRIBE_ERROR"},
		{MessageReceived, "MESSAGE"},
		{EventKind(0), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expect {
			t.Errorf("kind=%d expect=%s got=%s", tt.kind, tt.expect, got)
		}
	}
}

func TestEventKindCorrelated(t *testing.T) {
	tests := []struct {
		kind       EventKind
		correlated bool
		failure    bool
	}{
		{SubscribeOK, true, false},
		{SubscribeError, true, true},
		{UnsubscribeError, true, true},
		{Acknowledged, true, false},
		{Rejected, true, true},
		{MessageReceived, false, false},
		{Reconnecting, false, false},
	}
	for _, tt := range tests {
		if tt.kind.Correlated() != tt.correlated || tt.kind.Failure() != tt.failure {
			t.Errorf("kind=%s correlated=%v failure=%v", tt.kind, tt.kind.Correlated(), tt.kind.Failure())
		}
	}
}

func TestOperationError(t *testing.T) {
	cause := errors.New("permission denied")
	err := &OperationError{Op: "subscribe", Pattern: "a/b", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("OperationError must unwrap to its cause")
	}
	if err.Error() != `subscribe "a/b" rejected: permission denied` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestMessageHeader(t *testing.T) {
	var nilMessage *Message
	if nilMessage.Header("x") != "" {
		t.Fatal("nil message must have no headers")
	}
	msg := &Message{Headers: map[string]string{"x": "1"}}
	if msg.Header("x") != "1" {
		t.Fatal("header lookup failed")
	}
}
