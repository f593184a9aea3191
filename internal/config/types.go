package config

import "time"

// Config is the top-level notifysync configuration, corresponding to .notifysync.yml.
type Config struct {
	APIURL         string          `yaml:"api_url" koanf:"api_url"`
	UserID         string          `yaml:"user_id" koanf:"user_id"`
	Token          string          `yaml:"token,omitempty" koanf:"token"`
	RequestTimeout time.Duration   `yaml:"request_timeout" koanf:"request_timeout"`
	Realtime       RealtimeConfig  `yaml:"realtime" koanf:"realtime"`
	Reconcile      ReconcileConfig `yaml:"reconcile" koanf:"reconcile"`
	Push           PushConfig      `yaml:"push" koanf:"push"`
	Server         ServerConfig    `yaml:"server" koanf:"server"`
	Log            LogConfig       `yaml:"log" koanf:"log"`
}

// RealtimeConfig controls the websocket event channel. It is off by default
// because polling alone keeps the store correct.
type RealtimeConfig struct {
	Enabled              bool          `yaml:"enabled" koanf:"enabled"`
	URL                  string        `yaml:"url" koanf:"url"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" koanf:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" koanf:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" koanf:"handshake_timeout"`
}

// ReconcileConfig controls how the store re-derives state from the server.
type ReconcileConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" koanf:"poll_interval"`
	PageSize     int           `yaml:"page_size" koanf:"page_size"`
}

// PushConfig holds push-subscription settings for the desktop platform.
type PushConfig struct {
	VAPIDPublicKey string `yaml:"vapid_public_key" koanf:"vapid_public_key"`
	WorkerPath     string `yaml:"worker_path" koanf:"worker_path"`
	Scope          string `yaml:"scope" koanf:"scope"`
	ServiceURL     string `yaml:"service_url" koanf:"service_url"`
	Browser        string `yaml:"browser" koanf:"browser"`
	Supported      bool   `yaml:"supported" koanf:"supported"`
	Permission     string `yaml:"permission" koanf:"permission"`
}

// ServerConfig holds settings for the reference backend started by `serve`.
type ServerConfig struct {
	Port         int           `yaml:"port" koanf:"port"`
	DataDir      string        `yaml:"data_dir" koanf:"data_dir"`
	PingInterval time.Duration `yaml:"ping_interval" koanf:"ping_interval"`
	AllowAll     bool          `yaml:"allow_all" koanf:"allow_all"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
	File   string `yaml:"file,omitempty" koanf:"file"`
}

// Permission states accepted by push.permission.
const (
	PermissionDefault = "default"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:         "http://localhost:8080",
		RequestTimeout: 15 * time.Second,
		Realtime: RealtimeConfig{
			Enabled:              false,
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			PollInterval: 60 * time.Second,
			PageSize:     20,
		},
		Push: PushConfig{
			WorkerPath: "/sw.js",
			Scope:      "/",
			Browser:    "notifysync-cli",
			Supported:  true,
			Permission: PermissionDefault,
		},
		Server: ServerConfig{
			Port:         8080,
			DataDir:      "data",
			PingInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
