package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigFile names the environment variable pointing at a TOML file.
const EnvConfigFile = "CONFIG_FILE"

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(name); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	v, ok := r.lookup(name)
	if !ok || v == "" || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", name, err)
		return
	}
	*dst = b
}

func (r *envReader) positiveInt(name string, dst *int) {
	v, ok := r.lookup(name)
	if !ok || v == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", name, err)
		return
	}
	if n <= 0 {
		r.err = fmt.Errorf("invalid %s: must be greater than zero", name)
		return
	}
	*dst = n
}

func (r *envReader) duration(name string, dst *Duration) {
	v, ok := r.lookup(name)
	if !ok || v == "" || r.err != nil {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", name, err)
		return
	}
	if d <= 0 {
		r.err = fmt.Errorf("invalid %s: must be greater than zero", name)
		return
	}
	dst.Duration = d
}

func loadFromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.boolean("DEBUG", &cfg.Debug)
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}
	r.str("LISTEN_ADDR", &cfg.ListenAddr)

	r.str("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	r.str("TASKS_TABLE", &cfg.Storage.TasksTable)
	r.str("DOMAIN_EVENTS_QUEUE", &cfg.Storage.EventsQueue)

	r.str("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	r.duration("DEDUPER_TTL", &cfg.Redis.DeduperTTL)
	r.str("TASK_EVENTS_CHANNEL", &cfg.Redis.EventsChannel)

	r.str("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	r.str("AUTH0_DOMAIN", &cfg.Auth.Domain)
	r.duration("JWKS_CACHE_TTL", &cfg.Auth.JWKSCacheTTL)
	r.str("LOCAL_AUTH_MODE", &cfg.Auth.LocalMode)
	r.str("LOCAL_AUTH_SHARED_SECRET", &cfg.Auth.SharedSecret)
	if v, _ := lookup("AUTH0_TEST_MODE"); v == "1" && cfg.Auth.LocalMode == "" {
		cfg.Auth.LocalMode = "hs256"
		r.str("TEST_JWT_SECRET", &cfg.Auth.SharedSecret)
	}

	r.positiveInt("ENQUEUE_WORKERS", &cfg.Events.Workers)
	r.positiveInt("ENQUEUE_BUFFER", &cfg.Events.Buffer)
	r.duration("ENQUEUE_TIMEOUT", &cfg.Events.SendTimeout)
	r.duration("ENQUEUE_HANDOFF_TIMEOUT", &cfg.Events.HandoffTimeout)

	r.positiveInt("REORDER_CONCURRENCY", &cfg.Reorder.Concurrency)

	return r.err
}
