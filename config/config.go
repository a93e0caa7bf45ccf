// Package config loads server and client settings. Values start from code
// defaults, are overridden by an optional TOML file and then by OCEAN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/stn81/ocean"
	"github.com/stn81/ocean/packet"
	"github.com/stn81/ocean/session"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "OCEAN"

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8888
)

var ErrInvalidConfig = errors.New("invalid config")

// Log selects the process logger.
type Log struct {
	Level  string `toml:"level" envconfig:"LEVEL"`
	Format string `toml:"format" envconfig:"FORMAT"`
}

type ServerConfig struct {
	Host string `toml:"host" envconfig:"HOST"`
	Port int    `toml:"port" envconfig:"PORT"`

	SessionTimeout time.Duration `toml:"session_timeout" envconfig:"SESSION_TIMEOUT"`
	SweepInterval  time.Duration `toml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`

	// TLS settings are accepted but not acted on; the server warns when
	// TLSEnabled is set.
	TLSEnabled  bool   `toml:"tls_enabled" envconfig:"TLS_ENABLED"`
	TLSCertFile string `toml:"tls_cert_file" envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `toml:"tls_key_file" envconfig:"TLS_KEY_FILE"`

	MaxConnections int           `toml:"max_connections" envconfig:"MAX_CONNECTIONS"`
	SendQueueSize  int           `toml:"send_queue_size" envconfig:"SEND_QUEUE_SIZE"`
	RecvQueueSize  int           `toml:"recv_queue_size" envconfig:"RECV_QUEUE_SIZE"`
	ReadTimeout    time.Duration `toml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `toml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	MaxFrameSize   int           `toml:"max_frame_size" envconfig:"MAX_FRAME_SIZE"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `toml:"metrics_addr" envconfig:"METRICS_ADDR"`

	Log Log `toml:"log"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           DefaultHost,
		Port:           DefaultPort,
		SessionTimeout: session.DefaultTimeout,
		SweepInterval:  session.DefaultSweepInterval,
		SendQueueSize:  ocean.DefaultQueueSize,
		RecvQueueSize:  ocean.DefaultQueueSize,
		MaxFrameSize:   ocean.DefaultMaxFrameSize,
		Log:            Log{Level: "info", Format: "json"},
	}
}

// LoadServerConfig reads path (optional) and the environment on top of the
// defaults and validates the result.
func LoadServerConfig(path string) (*ServerConfig, error) {
	conf := DefaultServerConfig()
	if err := load(path, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *ServerConfig) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.SessionTimeout <= 0:
		return fmt.Errorf("%w: session_timeout must be positive", ErrInvalidConfig)
	case c.SweepInterval <= 0:
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidConfig)
	case c.MaxConnections < 0:
		return fmt.Errorf("%w: max_connections must not be negative", ErrInvalidConfig)
	case c.MaxFrameSize < 0:
		return fmt.Errorf("%w: max_frame_size must not be negative", ErrInvalidConfig)
	case c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == ""):
		return fmt.Errorf("%w: tls_enabled needs tls_cert_file and tls_key_file", ErrInvalidConfig)
	}
	return c.Log.validate()
}

func (c *ServerConfig) TCPServerConfig() *ocean.TCPServerConfig {
	conf := ocean.NewTCPServerConfig()
	conf.MaxConnection = c.MaxConnections
	conf.Conn = ocean.ConnConfig{
		SendQueueSize: c.SendQueueSize,
		RecvQueueSize: c.RecvQueueSize,
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		MaxFrameSize:  c.MaxFrameSize,
	}
	conf.TLS = ocean.TLSConfig{
		Enabled:  c.TLSEnabled,
		CertFile: c.TLSCertFile,
		KeyFile:  c.TLSKeyFile,
	}
	return conf
}

func (c *ServerConfig) SessionConfig() session.Config {
	return session.Config{
		Timeout:       c.SessionTimeout,
		SweepInterval: c.SweepInterval,
	}
}

type ClientConfig struct {
	Addr          string        `toml:"addr" envconfig:"ADDR"`
	DialTimeout   time.Duration `toml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	CallTimeout   time.Duration `toml:"call_timeout" envconfig:"CALL_TIMEOUT"`
	AutoReconnect bool          `toml:"auto_reconnect" envconfig:"AUTO_RECONNECT"`
	// IDStrategy is one of counter, uuid or ulid.
	IDStrategy   string `toml:"id_strategy" envconfig:"ID_STRATEGY"`
	MaxFrameSize int    `toml:"max_frame_size" envconfig:"MAX_FRAME_SIZE"`

	// BreakerFailures opens the circuit breaker after that many consecutive
	// failures; zero disables the breaker.
	BreakerFailures uint32        `toml:"breaker_failures" envconfig:"BREAKER_FAILURES"`
	BreakerTimeout  time.Duration `toml:"breaker_timeout" envconfig:"BREAKER_TIMEOUT"`

	Log Log `toml:"log"`
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Addr:           net.JoinHostPort("127.0.0.1", strconv.Itoa(DefaultPort)),
		DialTimeout:    30 * time.Second,
		CallTimeout:    10 * time.Second,
		IDStrategy:     packet.StrategyCounter,
		MaxFrameSize:   ocean.DefaultMaxFrameSize,
		BreakerTimeout: 30 * time.Second,
		Log:            Log{Level: "info", Format: "console"},
	}
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	conf := DefaultClientConfig()
	if err := load(path, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *ClientConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalidConfig, c.Addr, err)
	}
	if c.CallTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if _, err := packet.NewIDGenerator(c.IDStrategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.BreakerFailures > 0 && c.BreakerTimeout <= 0 {
		return fmt.Errorf("%w: breaker_timeout must be positive", ErrInvalidConfig)
	}
	return c.Log.validate()
}

func (c *ClientConfig) TCPClientConfig() (*ocean.TCPClientConfig, error) {
	ids, err := packet.NewIDGenerator(c.IDStrategy)
	if err != nil {
		return nil, err
	}

	conf := ocean.NewTCPClientConfig()
	conf.DialTimeout = c.DialTimeout
	conf.AutoReconnect = c.AutoReconnect
	conf.IDs = ids
	if c.MaxFrameSize > 0 {
		conf.Conn.MaxFrameSize = c.MaxFrameSize
	}
	return conf, nil
}

func load(path string, conf interface{}) error {
	if path != "" {
		if _, err := toml.DecodeFile(path, conf); err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
	}
	// no default tags: variables that are not set leave the field alone
	if err := envconfig.Process(EnvPrefix, conf); err != nil {
		return fmt.Errorf("load config from environment: %w", err)
	}
	return nil
}
