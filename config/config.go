// Package config assembles service settings from built-in defaults, an
// optional TOML file named by CONFIG_FILE and environment variables, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultListenAddr         = ":8080"
	DefaultTasksTable         = "Tasks"
	DefaultDeduperTTL         = 24 * time.Hour
	DefaultJWKSCacheTTL       = 15 * time.Minute
	DefaultEventsChannel      = "task-events"
	DefaultEventWorkers       = 4
	DefaultEventBuffer        = 1024
	DefaultEventSendTimeout   = 10 * time.Second
	DefaultEventHandoff       = 15 * time.Millisecond
	DefaultReorderConcurrency = 8
)

// Duration is a time.Duration written as "90s" or "15m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Debug      bool          `toml:"debug"`
	ListenAddr string        `toml:"listen_addr"`
	Storage    StorageConfig `toml:"storage"`
	Redis      RedisConfig   `toml:"redis"`
	Auth       AuthConfig    `toml:"auth"`
	Events     EventsConfig  `toml:"events"`
	Reorder    ReorderConfig `toml:"reorder"`
}

type StorageConfig struct {
	ConnectionString string `toml:"connection_string"`
	TasksTable       string `toml:"tasks_table"`
	// EventsQueue is optional; events are only queued when it is set.
	EventsQueue string `toml:"events_queue"`
}

// RedisConfig is optional as a whole. Without a connection string there is
// neither idempotency tracking nor pub/sub notification.
type RedisConfig struct {
	ConnectionString string   `toml:"connection_string"`
	DeduperTTL       Duration `toml:"deduper_ttl"`
	EventsChannel    string   `toml:"events_channel"`
}

type AuthConfig struct {
	Audience string `toml:"audience"`
	Domain   string `toml:"domain"`
	// LocalMode "hs256" validates tokens signed with SharedSecret instead of
	// fetching the JWKS of Domain.
	LocalMode    string   `toml:"local_mode"`
	SharedSecret string   `toml:"shared_secret"`
	JWKSCacheTTL Duration `toml:"jwks_cache_ttl"`
}

type EventsConfig struct {
	Workers        int      `toml:"workers"`
	Buffer         int      `toml:"buffer"`
	SendTimeout    Duration `toml:"send_timeout"`
	HandoffTimeout Duration `toml:"handoff_timeout"`
}

type ReorderConfig struct {
	Concurrency int `toml:"concurrency"`
}

func setDefaults(cfg *Config) {
	cfg.ListenAddr = DefaultListenAddr
	cfg.Storage.TasksTable = DefaultTasksTable
	cfg.Redis.DeduperTTL = Duration{DefaultDeduperTTL}
	cfg.Redis.EventsChannel = DefaultEventsChannel
	cfg.Auth.JWKSCacheTTL = Duration{DefaultJWKSCacheTTL}
	cfg.Events = EventsConfig{
		Workers:        DefaultEventWorkers,
		Buffer:         DefaultEventBuffer,
		SendTimeout:    Duration{DefaultEventSendTimeout},
		HandoffTimeout: Duration{DefaultEventHandoff},
	}
	cfg.Reorder.Concurrency = DefaultReorderConcurrency
}

// LocalAuth reports whether tokens are checked against the shared secret.
func (c *Config) LocalAuth() bool {
	return strings.EqualFold(c.Auth.LocalMode, "hs256")
}

// Issuer is the expected token issuer for the configured Auth0 domain.
func (c *Config) Issuer() string {
	if c.Auth.Domain == "" {
		return ""
	}
	return "https://" + c.Auth.Domain + "/"
}

// JWKSURL is where signing keys of the Auth0 domain are published.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth.Domain)
}

// ValidateStorage checks what every command touching the storage account needs.
func (c *Config) ValidateStorage() error {
	if c.Storage.ConnectionString == "" {
		return errors.New("missing STORAGE_CONNECTION_STRING")
	}
	return nil
}

// ValidateServe checks the settings the HTTP service cannot start without.
func (c *Config) ValidateServe() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.Storage.TasksTable == "" {
		return errors.New("missing TASKS_TABLE")
	}
	switch {
	case c.Auth.LocalMode == "":
		if c.Auth.Audience == "" || c.Auth.Domain == "" {
			return errors.New("missing Auth0 config: AUTH0_AUDIENCE and AUTH0_DOMAIN are required")
		}
	case c.LocalAuth():
		if c.Auth.SharedSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", c.Auth.LocalMode)
	}
	if c.Events.Workers <= 0 || c.Events.Buffer <= 0 {
		return errors.New("event workers and buffer must be greater than zero")
	}
	if c.Reorder.Concurrency <= 0 {
		return errors.New("reorder concurrency must be greater than zero")
	}
	return nil
}
