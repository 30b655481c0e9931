// Package config defines and loads the configuration surface for the
// rocketd demo binary: listen address, connection idle-timeout sweep, the
// per-stream demand buffer bound, and logging. It follows the dual
// json/toml tagged-struct convention used across this codebase, and
// actually parses a file via BurntSushi/toml rather than leaving loading
// unimplemented.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel is the minimum severity a log line must have to be emitted.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration for a rocketd instance.
type Config struct {
	Server  ServerConfig  `json:"server" toml:"server"`
	Logging LoggingConfig `json:"logging" toml:"logging"`
}

// ServerConfig holds the listener and connection-lifecycle settings
// consumed by cmd/rocketd and by internal/rocket.ConnManager's idle sweep.
type ServerConfig struct {
	ListenAddress string `json:"listen_address" toml:"listen_address"`

	// IdleTimeout is both the connection-level idle timeout the manager
	// enforces (spec.md §5's "connection-level idle timeout is managed by
	// the manager") and the interval of the sweep ticker that checks for
	// it: every IdleTimeout, ConnectionCore.TimeoutExpired is called on every
	// connection the ConnManager tracks, which closes it unless it is currently busy. See
	// ConnManager.StartIdleSweep.
	IdleTimeout Duration `json:"idle_timeout" toml:"idle_timeout"`

	// MaxBufferedItemsPerStream bounds the demand-overrun buffer described
	// in spec.md §4.3 / §9's second Open Question. Zero means use the
	// package default (the unexported maxBufferedItems constant in
	// internal/rocket/subscriber.go, applied via ConnectionCore.SetMaxBufferedItems).
	MaxBufferedItemsPerStream uint32 `json:"max_buffered_items_per_stream,omitempty" toml:"max_buffered_items_per_stream,omitempty"`

	// DrainTimeout bounds how long rocketd's shutdown, after BeginDrain, waits
	// for connections to go idle on their own before DropAll forces them
	// closed.
	DrainTimeout Duration `json:"drain_timeout" toml:"drain_timeout"`
}

// LoggingConfig configures the single structured logger all of rocketcore
// writes through (internal/logger).
type LoggingConfig struct {
	Level  LogLevel `json:"level,omitempty" toml:"level,omitempty"`
	Target string   `json:"target,omitempty" toml:"target,omitempty"` // "stdout", "stderr", or a file path
}

// Duration wraps time.Duration so config files can write "30s"/"2m"
// instead of raw nanosecond integers, for both the json and toml decoders.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration rocketd runs with when no config file
// is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:7878",
			IdleTimeout:   Duration(5 * time.Minute),
			DrainTimeout:  Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Target: "stderr",
		},
	}
}

// Load reads and parses a TOML config file at path over Default(), so any
// key the file does not set keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields Load cannot otherwise guarantee are sane.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("config: server.listen_address must not be empty")
	}
	if c.Server.IdleTimeout.AsDuration() <= 0 {
		return fmt.Errorf("config: server.idle_timeout must be positive")
	}
	switch c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, "":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
