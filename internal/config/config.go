package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// MinBackoffFloor is the lowest reconnect delay a config may request.
const MinBackoffFloor = 250 * time.Millisecond

// Config represents the global ~/.convsync/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	LogLevel       string   `toml:"log_level"`
	Server         Server   `toml:"server"`
	Realtime       Realtime `toml:"realtime"`
	Outbox         Outbox   `toml:"outbox"`
	Display        Display  `toml:"display"`
}

// Server locates the backing store API and the real-time endpoint.
type Server struct {
	APIURL      string `toml:"api_url"`
	RealtimeURL string `toml:"realtime_url"`
	TokenFile   string `toml:"token_file"`
	// UserID overrides the subject claim of the credential.
	UserID string `toml:"user_id"`
}

// Realtime tunes the connection manager.
type Realtime struct {
	ConnectTimeout    Duration `toml:"connect_timeout"`
	SendTimeout       Duration `toml:"send_timeout"`
	BackoffFloor      Duration `toml:"backoff_floor"`
	BackoffMax        Duration `toml:"backoff_max"`
	TokenPollInterval Duration `toml:"token_poll_interval"`
}

// Outbox tunes the offline delivery queue.
type Outbox struct {
	FlushInterval Duration `toml:"flush_interval"`
	// MaxAttempts of zero retries forever.
	MaxAttempts int     `toml:"max_attempts"`
	FlushRate   float64 `toml:"flush_rate"`
}

// Display controls humanized timestamps in the conversation list.
type Display struct {
	TimeLayout string `toml:"time_layout"`
	DateLayout string `toml:"date_layout"`
	Timezone   string `toml:"timezone"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when no file or key is present.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			APIURL:      "http://localhost:8080",
			RealtimeURL: "ws://localhost:8080/ws",
		},
		Realtime: Realtime{
			ConnectTimeout:    Duration{10 * time.Second},
			SendTimeout:       Duration{2 * time.Second},
			BackoffFloor:      Duration{time.Second},
			BackoffMax:        Duration{30 * time.Second},
			TokenPollInterval: Duration{5 * time.Second},
		},
		Outbox: Outbox{
			FlushInterval: Duration{5 * time.Second},
			FlushRate:     10,
		},
		Display: Display{
			TimeLayout: "15:04",
			DateLayout: "Jan 2, 2006",
		},
	}
}

// Load reads config from the given path on top of Defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// LoadOrDefault is Load that falls back to Defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		d := Defaults()
		return &d, nil
	}
	return cfg, err
}

// Location resolves the display timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Display.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Display.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) normalize() {
	def := Defaults()
	if c.Realtime.BackoffFloor.Duration < MinBackoffFloor {
		c.Realtime.BackoffFloor.Duration = MinBackoffFloor
	}
	if c.Realtime.BackoffMax.Duration < c.Realtime.BackoffFloor.Duration {
		c.Realtime.BackoffMax = c.Realtime.BackoffFloor
	}
	if c.Realtime.ConnectTimeout.Duration <= 0 {
		c.Realtime.ConnectTimeout = def.Realtime.ConnectTimeout
	}
	if c.Realtime.SendTimeout.Duration <= 0 {
		c.Realtime.SendTimeout = def.Realtime.SendTimeout
	}
	if c.Realtime.TokenPollInterval.Duration <= 0 {
		c.Realtime.TokenPollInterval = def.Realtime.TokenPollInterval
	}
	if c.Outbox.FlushInterval.Duration <= 0 {
		c.Outbox.FlushInterval = def.Outbox.FlushInterval
	}
	if c.Outbox.MaxAttempts < 0 {
		c.Outbox.MaxAttempts = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Display.TimeLayout == "" {
		c.Display.TimeLayout = def.Display.TimeLayout
	}
	if c.Display.DateLayout == "" {
		c.Display.DateLayout = def.Display.DateLayout
	}
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
