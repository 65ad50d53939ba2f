package core

import (
	"fmt"
	"strings"
	"time"
)

type ServerConfig struct {
	Address string `koanf:"address" mapstructure:"address"`
}

type SigningConfig struct {
	Secret            string        `koanf:"secret" mapstructure:"secret"`
	SignatureHeader   string        `koanf:"signature_header" mapstructure:"signature_header"`
	TimestampHeader   string        `koanf:"timestamp_header" mapstructure:"timestamp_header"`
	IdempotencyHeader string        `koanf:"idempotency_header" mapstructure:"idempotency_header"`
	ReplayWindow      time.Duration `koanf:"replay_window" mapstructure:"replay_window"`
}

type LifecycleConfig struct {
	Secret string `koanf:"secret" mapstructure:"secret"`
	Header string `koanf:"header" mapstructure:"header"`
}

type DispatchConfig struct {
	EndpointURL    string            `koanf:"endpoint_url" mapstructure:"endpoint_url"`
	TypeEndpoints  map[string]string `koanf:"type_endpoints" mapstructure:"type_endpoints"`
	Timeout        time.Duration     `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts    int               `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration     `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration     `koanf:"max_backoff" mapstructure:"max_backoff"`
	FailOpen       bool              `koanf:"fail_open" mapstructure:"fail_open"`
}

type MessagingConfig struct {
	Provider string `koanf:"provider" mapstructure:"provider"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
}

type IdempotencyConfig struct {
	TTL time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Server      ServerConfig      `koanf:"server" mapstructure:"server"`
	Signing     SigningConfig     `koanf:"signing" mapstructure:"signing"`
	Lifecycle   LifecycleConfig   `koanf:"lifecycle" mapstructure:"lifecycle"`
	Dispatch    DispatchConfig    `koanf:"dispatch" mapstructure:"dispatch"`
	Messaging   MessagingConfig   `koanf:"messaging" mapstructure:"messaging"`
	Database    DatabaseConfig    `koanf:"database" mapstructure:"database"`
	Idempotency IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhooks",
		Server: ServerConfig{
			Address: ":8080",
		},
		Signing: SigningConfig{
			SignatureHeader:   "x-signature",
			TimestampHeader:   "x-timestamp",
			IdempotencyHeader: "x-idempotency-key",
			ReplayWindow:      5 * time.Minute,
		},
		Lifecycle: LifecycleConfig{
			Header: "x-webhook-secret",
		},
		Dispatch: DispatchConfig{
			Timeout:        10 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			FailOpen:       true,
		},
		Messaging: MessagingConfig{
			Provider: "twilio",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "file:webhooks.db?_foreign_keys=on",
			PingTimeout: 5 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Signing.ReplayWindow <= 0 {
		return fmt.Errorf("core: signing.replay_window must be positive")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("core: dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.InitialBackoff <= 0 {
		return fmt.Errorf("core: dispatch.initial_backoff must be positive")
	}
	if c.Dispatch.MaxBackoff < c.Dispatch.InitialBackoff {
		return fmt.Errorf("core: dispatch.max_backoff must be at least dispatch.initial_backoff")
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("core: dispatch.timeout must be positive")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("core: idempotency.ttl must be positive")
	}
	return nil
}

// EndpointFor resolves the outbound endpoint for an event type, preferring
// the per-type override over the shared endpoint.
func (c DispatchConfig) EndpointFor(eventType string) string {
	if url, ok := c.TypeEndpoints[eventType]; ok && strings.TrimSpace(url) != "" {
		return url
	}
	return c.EndpointURL
}
