package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Duration is a time.Duration that round-trips through TOML and environment
// variables as a string like "10s" or "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the per-session configuration, read from
// ~/.clinchat/config.toml and overridable via CLINCHAT_* environment
// variables (e.g. CLINCHAT_CONNECTION_BASEDELAY=500ms).
type Config struct {
	DefaultSession string `toml:"default_session" envconfig:"DEFAULT_SESSION"`

	Server     Server     `toml:"server"`
	Connection Connection `toml:"connection"`
	Reconcile  Reconcile  `toml:"reconcile"`
	Presence   Presence   `toml:"presence"`
	Notify     Notify     `toml:"notify"`
}

// Server holds the remote service endpoints.
type Server struct {
	// BaseURL is the REST API root, e.g. https://chat.example.org/api/v1.
	BaseURL string `toml:"base_url" envconfig:"BASE_URL"`
	// PushURL is the push-channel endpoint, e.g. https://chat.example.org/hub.
	// The websocket transport rewrites the scheme to wss/ws.
	PushURL string `toml:"push_url" envconfig:"PUSH_URL"`
}

// Connection tunes the push-channel reconnect policy.
type Connection struct {
	BaseDelay        Duration `toml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay         Duration `toml:"max_delay" envconfig:"MAX_DELAY"`
	MaxAttempts      int      `toml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	HandshakeTimeout Duration `toml:"handshake_timeout" envconfig:"HANDSHAKE_TIMEOUT"`
}

// Reconcile tunes the message reconciliation heuristics. The relay may echo
// sends without a stable ID, so duplicate detection matches on content
// within a time window; both are deliberately configurable rather than
// hard-coded.
type Reconcile struct {
	// DedupWindow is how far apart two content-identical messages may be
	// and still be treated as the same message.
	DedupWindow Duration `toml:"dedup_window" envconfig:"DEDUP_WINDOW"`
	// ConfirmGrace is how long the send pipeline waits for a push echo
	// before marking a successfully posted message Delivered itself.
	ConfirmGrace Duration `toml:"confirm_grace" envconfig:"CONFIRM_GRACE"`
}

// Presence tunes the presence tracker.
type Presence struct {
	// PollInterval is the period of the REST snapshot refresh that
	// compensates for presence deltas missed across reconnects.
	PollInterval Duration `toml:"poll_interval" envconfig:"POLL_INTERVAL"`
}

// Notify tunes the transient notification queue and live-event feed.
type Notify struct {
	TTL          Duration `toml:"ttl" envconfig:"TTL"`
	Capacity     int      `toml:"capacity" envconfig:"CAPACITY"`
	FeedTTL      Duration `toml:"feed_ttl" envconfig:"FEED_TTL"`
	FeedCapacity int      `toml:"feed_capacity" envconfig:"FEED_CAPACITY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Connection: Connection{
			BaseDelay:        Duration{time.Second},
			MaxDelay:         Duration{10 * time.Second},
			MaxAttempts:      6,
			HandshakeTimeout: Duration{15 * time.Second},
		},
		Reconcile: Reconcile{
			DedupWindow:  Duration{10 * time.Second},
			ConfirmGrace: Duration{time.Second},
		},
		Presence: Presence{
			PollInterval: Duration{15 * time.Second},
		},
		Notify: Notify{
			TTL:          Duration{5 * time.Second},
			Capacity:     32,
			FeedTTL:      Duration{4 * time.Second},
			FeedCapacity: 5,
		},
	}
}

// Load reads config from the given path, fills unset fields with defaults,
// and applies CLINCHAT_* environment overrides. A missing file is not an
// error; defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := envconfig.Process("clinchat", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
