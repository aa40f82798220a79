// Package config loads hostshim configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML or TOML file, and HOSTSHIM_* environment variables (HOSTSHIM_LOG_LEVEL
// overrides log.level). The file may be watched for changes with Watch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "HOSTSHIM"

// Config is the complete hostshim configuration.
type Config struct {
	// Workers is the size of the background worker pool.
	Workers int `mapstructure:"workers"`

	Log      LogConfig     `mapstructure:"log"`
	Stream   StreamConfig  `mapstructure:"stream"`
	Plugins  PluginsConfig `mapstructure:"plugins"`
	Sessions []SessionSpec `mapstructure:"sessions"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
	// File receives log output instead of stderr. The terminal UI always
	// logs to a file and falls back to hostshim.log in the temp directory.
	File string `mapstructure:"file"`
}

// StreamConfig controls the websocket event stream.
type StreamConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:7878". Empty disables it.
	Addr string `mapstructure:"addr"`

	// Token, when set, must be presented by clients as ?token= or a bearer
	// Authorization header.
	Token string `mapstructure:"token"`
}

// PluginsConfig controls the Lua plugin runtime.
type PluginsConfig struct {
	// Dir holds *.lua plugin files. Empty disables plugins.
	Dir string `mapstructure:"dir"`
	// Watch reloads plugins when files in Dir change.
	Watch bool `mapstructure:"watch"`
}

// SessionSpec describes a launchable session.
type SessionSpec struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Dir     string   `mapstructure:"dir"`
	// StopCommand is written to stdin to request a graceful stop. When
	// empty the process is sent an interrupt signal instead.
	StopCommand string `mapstructure:"stop_command"`
	// Gated sessions refuse to launch until accepted.
	Gated bool `mapstructure:"gated"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers: 4,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Plugins: PluginsConfig{
			Dir: "plugins",
		},
	}
}

// New returns a viper instance with defaults and environment binding
// applied. If path is empty the file hostshim.{yaml,toml} is searched for
// in the working directory and the user config directory.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	v.SetConfigName("hostshim")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "hostshim"))
	}
	return v
}

// SetDefaults registers every scalar key so environment overrides apply.
func SetDefaults(v *viper.Viper) {
	defaults := Default()
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)
	v.SetDefault("stream.addr", defaults.Stream.Addr)
	v.SetDefault("stream.token", defaults.Stream.Token)
	v.SetDefault("plugins.dir", defaults.Plugins.Dir)
	v.SetDefault("plugins.watch", defaults.Plugins.Watch)
}

// Load reads the config file, if any, and decodes the result.
// A missing file is only an error when it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.Name == "" {
			return fmt.Errorf("%w: sessions[%d] has no name", ErrInvalidConfig, i)
		}
		if s.Command == "" {
			return fmt.Errorf("%w: session %q has no command", ErrInvalidConfig, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate session %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Session returns the spec named name.
func (c *Config) Session(name string) (SessionSpec, bool) {
	for _, s := range c.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return SessionSpec{}, false
}
