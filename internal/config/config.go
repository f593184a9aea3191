package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "NOTIFYSYNC_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (NOTIFYSYNC_*). Nested keys use a double
// underscore: NOTIFYSYNC_REALTIME__ENABLED -> realtime.enabled.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validPermissions = map[string]bool{
	PermissionDefault: true,
	PermissionGranted: true,
	PermissionDenied:  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api_url %q: must be an http(s) URL", c.APIURL)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return fmt.Errorf("realtime.max_reconnect_attempts must be non-negative")
	}
	if c.Realtime.ReconnectDelay < 0 {
		return fmt.Errorf("realtime.reconnect_delay must be non-negative")
	}
	if c.Reconcile.PollInterval < 0 {
		return fmt.Errorf("reconcile.poll_interval must be non-negative")
	}
	if c.Reconcile.PageSize <= 0 {
		return fmt.Errorf("reconcile.page_size must be positive")
	}

	if c.Push.Permission != "" && !validPermissions[c.Push.Permission] {
		return fmt.Errorf("invalid push.permission %q: must be one of default, granted, denied", c.Push.Permission)
	}
	if c.Push.WorkerPath != "" && !strings.HasPrefix(c.Push.WorkerPath, "/") {
		return fmt.Errorf("push.worker_path must start with /")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be non-negative")
	}

	return nil
}

// RealtimeURL returns the websocket endpoint for the realtime channel. An
// explicit realtime.url wins; otherwise it is derived from api_url. An empty
// result means the endpoint cannot be resolved.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return ""
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/notifications/ws"
	return u.String()
}
