package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHATSYNC_"

// Config holds the client tuning knobs. Values are resolved in order:
// built-in defaults, then an optional TOML file, then CHATSYNC_* env vars.
type Config struct {
	APIBaseURL string        `koanf:"api_base_url"`
	SocketURL  string        `koanf:"socket_url"`
	PageSize   int           `koanf:"page_size"`
	WriteWait  time.Duration `koanf:"write_wait"`
	PongWait   time.Duration `koanf:"pong_wait"`
	// ReconnectMin/ReconnectMax bound the exponential redial backoff.
	ReconnectMin time.Duration `koanf:"reconnect_min"`
	ReconnectMax time.Duration `koanf:"reconnect_max"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"api_base_url":  "http://localhost:8000/api",
		"socket_url":    "ws://localhost:8000/ws",
		"page_size":     30,
		"write_wait":    10 * time.Second,
		"pong_wait":     60 * time.Second,
		"reconnect_min": time.Second,
		"reconnect_max": time.Minute,
	}
}

// Load builds a Config from defaults, the optional TOML file at path, and
// environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api base URL cannot be empty")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("socket URL cannot be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("invalid reconnect backoff bounds")
	}
	return nil
}
