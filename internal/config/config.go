// Package config provides botloom runtime configuration loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "botloom.toml"

// Config represents the runtime configuration.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Modules ModulesConfig `toml:"modules"`
	Journal JournalConfig `toml:"journal"`
	Log     LogConfig     `toml:"log"`
}

// RuntimeConfig contains scheduler settings.
type RuntimeConfig struct {
	Energy     int  `toml:"energy"`      // Dispatch budget per root operation
	ErrorLimit int  `toml:"error_limit"` // onError reports per listener
	Debug      bool `toml:"debug"`       // Enable breakpoints
	// DelayedSpaces lists spaces whose script edits are emitted but not
	// applied locally.
	DelayedSpaces []string `toml:"delayed_spaces"`
	// IDPrefix switches script-created bot ids from UUIDv7 to sequential
	// "<prefix>-N" ids, which makes runs replayable.
	IDPrefix string `toml:"id_prefix"`
}

// ModulesConfig contains module resolution settings.
type ModulesConfig struct {
	AllowRemote  bool          `toml:"allow_remote"`
	FetchTimeout time.Duration `toml:"fetch_timeout"`
}

// JournalConfig contains batch journal settings.
type JournalConfig struct {
	Path string `toml:"path"` // Empty disables the journal
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Energy:     100_000,
			ErrorLimit: 1000,
		},
		Modules: ModulesConfig{
			AllowRemote:  true,
			FetchTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads botloom.toml from the current directory, falling
// back to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Runtime.Energy <= 0 {
		return fmt.Errorf("runtime.energy must be positive, got %d", c.Runtime.Energy)
	}
	if c.Runtime.ErrorLimit < 0 {
		return fmt.Errorf("runtime.error_limit must not be negative, got %d", c.Runtime.ErrorLimit)
	}
	if c.Modules.FetchTimeout < 0 {
		return fmt.Errorf("modules.fetch_timeout must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
