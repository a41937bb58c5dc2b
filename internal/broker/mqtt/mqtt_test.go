package mqtt

import (
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-broker-client/internal/broker"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter(t *testing.T) {
	cases := []struct {
		pattern string
		filter  string
	}{
		{"myhome/livingroom/temperature", "myhome/livingroom/temperature"},
		{"myhome/*/temperature", "myhome/+/temperature"},
		{"myhome/>", "myhome/#"},
		{"myhome/>/temperature", "myhome/>/temperature"},
		{"animals/dog*", "animals/+"},
		{"#share/group/orders/*", "$share/group/orders/+"},
		{"#noexport/orders/>", "orders/#"},
		{"#noexport/#share/group/orders", "$share/group/orders"},
		{"#share/group/#noexport/orders", "$share/group/orders"},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			assert.Equal(t, tc.filter, Filter(tc.pattern))
		})
	}
}

func TestOptions(t *testing.T) {
	retries := 0
	cfg := config.Connection{
		Transport:      config.TransportMQTT,
		URL:            "tcp://localhost:1883",
		ClientID:       "sensor-1",
		Username:       "user",
		Password:       "secret",
		ConnectTimeout: "5s",
		Reconnect:      config.Reconnect{Retries: &retries, RetryWait: "2s"},
	}
	s := &Session{cfg: cfg, active: map[string]struct{}{}}
	opts := s.options()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Equal(t, "sensor-1", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 5*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 2*time.Second, opts.MaxReconnectInterval)
	assert.False(t, opts.AutoReconnect)
	assert.True(t, opts.CleanSession)
}

func TestOptionsWithAccessToken(t *testing.T) {
	cfg := config.Connection{Transport: config.TransportMQTT, URL: "tcp://localhost:1883", Username: "svc", AccessToken: "jwt"}
	s := &Session{cfg: cfg, active: map[string]struct{}{}}
	opts := s.options()

	require.NotNil(t, opts.CredentialsProvider)
	user, password := opts.CredentialsProvider()
	assert.Equal(t, "svc", user)
	assert.Equal(t, "jwt", password)
	assert.True(t, opts.AutoReconnect)
	assert.NotEmpty(t, opts.ClientID)
}

func TestRequestIsNotSupported(t *testing.T) {
	s, err := NewSession(config.Connection{URL: "tcp://localhost:1883", Username: "u"}, func(broker.Event) {})
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendRequest(&broker.Message{}, time.Second, nil, nil), broker.ErrNotSupported)
	assert.ErrorIs(t, s.Subscribe("a", true, "t", time.Second), broker.ErrNotConnected)
	assert.Error(t, s.SendReply(&broker.Message{}, &broker.Message{}))
}

func TestDeliveryOf(t *testing.T) {
	assert.Equal(t, broker.Direct, deliveryOf(0))
	assert.Equal(t, broker.Persistent, deliveryOf(1))
	assert.Equal(t, broker.Persistent, deliveryOf(2))
}
