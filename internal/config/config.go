// Package config loads engine configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/simmerhq/simmer/pkg/api"
)

// LogLevel is a configured logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects the log output encoding.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// Config is the engine's file-backed configuration.
type Config struct {
	// Shell is the default shell for bash steps.
	Shell string `toml:"shell"`

	// MaxOutputSize caps each captured output stream, in bytes per stream.
	// 0 means unlimited.
	MaxOutputSize int `toml:"max_output_size"`

	// DBPath is the SQLite database file; empty selects in-memory stores.
	DBPath string `toml:"db_path"`

	Logging LoggingConfig `toml:"logging"`
	Agent   AgentConfig   `toml:"agent"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
}

// AgentConfig configures the external agent command.
type AgentConfig struct {
	// Command is the agent command and its fixed arguments.
	Command []string `toml:"command"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Shell:         api.DefaultShell,
		MaxOutputSize: 10 << 20,
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}

// Load reads and validates a TOML config file, applying defaults for
// anything the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config file if it exists and falls back to
// defaults when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) validate() error {
	switch c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	if c.MaxOutputSize < 0 {
		return fmt.Errorf("max_output_size must not be negative")
	}
	return nil
}
