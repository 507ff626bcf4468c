// Package config loads the settings of the scriptbridge host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// Config is the full host configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Events    EventsConfig    `json:"events"`
	Journal   JournalConfig   `json:"journal"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Modal     ModalConfig     `json:"modal"`
}

// ServerConfig selects how script runtimes connect.
type ServerConfig struct {
	// Transport is "websocket" or "stdio".
	Transport      string   `json:"transport"`
	ListenAddr     string   `json:"listen_addr"`
	WebSocketPath  string   `json:"websocket_path"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LogConfig selects the logging backend.
type LogConfig struct {
	Level string `json:"level"`
	// Format is "logrus", "zap" or "slog".
	Format string `json:"format"`
}

// EventsConfig controls event delivery. A RedisAddr switches the event
// source from in-process broadcast to Redis pub/sub.
type EventsConfig struct {
	RateLimit    float64 `json:"rate_limit"`
	Burst        int     `json:"burst"`
	RedisAddr    string  `json:"redis_addr"`
	RedisChannel string  `json:"redis_channel"`
}

// JournalConfig selects where dispatched calls are recorded.
type JournalConfig struct {
	// Driver is "memory", "sqlite3" or "postgres".
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// MaxEntries caps the calls the memory journal keeps per session; 0 keeps all.
	MaxEntries int `json:"max_entries"`
	// ForgetOnClose drops a session's calls once it closes. Unset means true
	// for the memory driver and false otherwise.
	ForgetOnClose *bool `json:"forget_on_close"`
}

// BootstrapConfig names the objects of the injected bootstrap code.
type BootstrapConfig struct {
	Constructor  string `json:"constructor"`
	CallBinding  string `json:"call_binding"`
	EventBinding string `json:"event_binding"`
	PreambleFile string `json:"preamble_file"`
}

// ModalConfig controls how dialogs are shown.
type ModalConfig struct {
	DialogTitle string `json:"dialog_title"`
	// Input is "console" or "headless".
	Input string `json:"input"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Transport:     "websocket",
			ListenAddr:    ":8080",
			WebSocketPath: "/ws",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logrus",
		},
		Events: EventsConfig{
			Burst:        1,
			RedisChannel: "scriptbridge:events",
		},
		Journal: JournalConfig{
			Driver:     "memory",
			MaxEntries: 1000,
		},
		Bootstrap: BootstrapConfig{
			Constructor:  "Android",
			CallBinding:  "droid_rpc",
			EventBinding: "droid_callback",
		},
		Modal: ModalConfig{
			DialogTitle: "javaScript dialog",
			Input:       "headless",
		},
	}
}

// Load reads a JSON config file that may contain comments and trailing
// commas, then applies environment overrides. An empty path yields the
// defaults with overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config failed: %w", err)
		}
		if err := Parse(content, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes JSONC content over cfg.
func Parse(content []byte, cfg *Config) error {
	standard, err := hujson.Standardize(content)
	if err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	if err := json.Unmarshal(standard, cfg); err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SCRIPTBRIDGE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
	}
	if v := os.Getenv("SCRIPTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects unknown enum values and fills empty fields with defaults.
func (c *Config) Validate() error {
	def := Default()

	c.Server.Transport = strings.ToLower(c.Server.Transport)
	switch c.Server.Transport {
	case "":
		c.Server.Transport = def.Server.Transport
	case "websocket", "stdio":
	default:
		return fmt.Errorf("unsupported transport %q", c.Server.Transport)
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = def.Server.ListenAddr
	}
	if c.Server.WebSocketPath == "" {
		c.Server.WebSocketPath = def.Server.WebSocketPath
	}

	switch c.Log.Format {
	case "":
		c.Log.Format = def.Log.Format
	case "logrus", "zap", "slog":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	if c.Events.RateLimit < 0 {
		return fmt.Errorf("events rate_limit cannot be negative")
	}
	if c.Events.Burst <= 0 {
		c.Events.Burst = def.Events.Burst
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = def.Events.RedisChannel
	}

	switch c.Journal.Driver {
	case "":
		c.Journal.Driver = def.Journal.Driver
	case "memory", "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported journal driver %q", c.Journal.Driver)
	}
	if c.Journal.Driver != "memory" && c.Journal.DSN == "" {
		return fmt.Errorf("journal driver %s requires a dsn", c.Journal.Driver)
	}
	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("journal max_entries cannot be negative")
	}
	if c.Journal.ForgetOnClose == nil {
		forget := c.Journal.Driver == "memory"
		c.Journal.ForgetOnClose = &forget
	}

	if c.Bootstrap.Constructor == "" {
		c.Bootstrap.Constructor = def.Bootstrap.Constructor
	}
	if c.Bootstrap.CallBinding == "" {
		c.Bootstrap.CallBinding = def.Bootstrap.CallBinding
	}
	if c.Bootstrap.EventBinding == "" {
		c.Bootstrap.EventBinding = def.Bootstrap.EventBinding
	}

	if c.Modal.DialogTitle == "" {
		c.Modal.DialogTitle = def.Modal.DialogTitle
	}
	switch c.Modal.Input {
	case "":
		c.Modal.Input = def.Modal.Input
	case "console", "headless":
	default:
		return fmt.Errorf("unsupported modal input %q", c.Modal.Input)
	}
	return nil
}
