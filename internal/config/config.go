package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/utils"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	DefaultConfigPath     = "config.json"
	DefaultConnectTimeout = 10 * time.Second
	DefaultRetryWait      = 3 * time.Second

	TransportLoopback = "loopback"
	TransportMQTT     = "mqtt"
	TransportNATS     = "nats"

	// InfiniteRetries keeps reconnecting until Disconnect is called.
	InfiniteRetries = -1
)

var (
	ErrMissingURL         = errors.New("connection url is required")
	ErrMissingCredentials = errors.New("username or access token is required")
	ErrUnknownTransport   = errors.New("unknown transport")
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrConfigCreated      = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
)

type Reconnect struct {
	ReapplySubscriptions *bool  `json:"reapply_subscriptions,omitempty" bson:"reapply_subscriptions,omitempty"`
	Retries              *int   `json:"retries,omitempty" bson:"retries,omitempty"`
	RetryWait            string `json:"retry_wait,omitempty" bson:"retry_wait,omitempty"`
}

// Connection describes one broker endpoint. It is treated as immutable once handed to Connect.
type Connection struct {
	Name            string    `json:"name,omitempty" bson:"name"`
	Transport       string    `json:"transport" bson:"transport"`
	URL             string    `json:"url" bson:"url"`
	VPN             string    `json:"vpn,omitempty" bson:"vpn,omitempty"`
	ClientID        string    `json:"client_id,omitempty" bson:"client_id,omitempty"`
	Username        string    `json:"username,omitempty" bson:"username,omitempty"`
	Password        string    `json:"password,omitempty" bson:"password,omitempty"`
	AccessToken     string    `json:"access_token,omitempty" bson:"access_token,omitempty"`
	AccessTokenFile string    `json:"access_token_file,omitempty" bson:"access_token_file,omitempty"`
	ConnectTimeout  string    `json:"connect_timeout,omitempty" bson:"connect_timeout,omitempty"`
	Reconnect       Reconnect `json:"reconnect" bson:"reconnect"`
}

type Database struct {
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
	// CacheTTL bounds how long a loaded profile is served from memory.
	CacheTTL string `json:"cache_ttl"`
}

func (d Database) Enabled() bool {
	return d.Host != ""
}

type Config struct {
	Database           Database              `json:"database"`
	Environments       map[string]Connection `json:"environments"`
	DefaultEnvironment string                `json:"default_environment"`
	DebugMode          bool                  `json:"debug_mode"`
	AppName            string                `json:"app_name"`
	LogDir             string                `json:"log_dir"`
}

func template() Config {
	return Config{
		Environments: map[string]Connection{
			"local": {
				Transport: TransportMQTT,
				URL:       "tcp://localhost:1883",
				Username:  "guest",
				Password:  "guest",
			},
		},
		DefaultEnvironment: "local",
		AppName:            "broker-client",
		LogDir:             "logs",
	}
}

// ReadConfig loads the JSON configuration at path. A missing file is replaced
// by a template and reported as ErrConfigCreated.
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	bytes, err := os.ReadFile(path)

	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("error occured while reading config %s: %w", path, err)
		}
		data, _ := json.MarshalIndent(template(), "", "\t")
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return Config{}, fmt.Errorf("error occured while creating config %s: %w", path, writeErr)
		}
		return Config{}, ErrConfigCreated
	}

	var config Config
	if err = json.Unmarshal(bytes, &config); err != nil {
		return Config{}, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}

	for name, env := range config.Environments {
		env.Name = name
		config.Environments[name] = env
	}
	return config, nil
}

// Environment returns the named connection, or the default one when name is empty.
func (c Config) Environment(name string) (Connection, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	env, ok := c.Environments[name]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return env, nil
}

func (c Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Connection) Validate() error {
	switch strings.ToLower(c.Transport) {
	case TransportLoopback:
		return c.validateDurations()
	case TransportMQTT, TransportNATS, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}

	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}
	if strings.ToLower(c.Transport) == TransportMQTT && c.Username == "" && !c.HasAccessToken() {
		return ErrMissingCredentials
	}
	return c.validateDurations()
}

func (c Connection) validateDurations() error {
	if _, err := utils.ParseStringTime(c.ConnectTimeout); err != nil {
		return fmt.Errorf("connect_timeout: %w", err)
	}
	if _, err := utils.ParseStringTime(c.Reconnect.RetryWait); err != nil {
		return fmt.Errorf("reconnect.retry_wait: %w", err)
	}
	return nil
}

func (c Connection) TransportName() string {
	if c.Transport == "" {
		return TransportMQTT
	}
	return strings.ToLower(c.Transport)
}

func (c Connection) HasAccessToken() bool {
	return c.AccessToken != "" || c.AccessTokenFile != ""
}

// Token resolves the access token, reading AccessTokenFile on every call so rotated tokens are picked up.
func (c Connection) Token() (string, error) {
	if c.AccessToken != "" {
		return c.AccessToken, nil
	}
	if c.AccessTokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("error occured while reading access token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c Connection) ConnectTimeoutDuration() time.Duration {
	return utils.MustParseStringTime(c.ConnectTimeout, DefaultConnectTimeout)
}

func (c Connection) ReapplySubscriptions() bool {
	if c.Reconnect.ReapplySubscriptions == nil {
		return true
	}
	return *c.Reconnect.ReapplySubscriptions
}

func (c Connection) ReconnectRetries() int {
	if c.Reconnect.Retries == nil || *c.Reconnect.Retries < 0 {
		return InfiniteRetries
	}
	return *c.Reconnect.Retries
}

func (c Connection) RetryWait() time.Duration {
	return utils.MustParseStringTime(c.Reconnect.RetryWait, DefaultRetryWait)
}
