// Package config loads tangle configuration from an optional YAML file,
// TANGLE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/tangle/internal/engine"
)

// EnvPrefix prefixes environment overrides: engine.max_expansions is read
// from TANGLE_ENGINE_MAX_EXPANSIONS.
const EnvPrefix = "TANGLE"

// Config holds all configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Harness HarnessConfig `mapstructure:"harness"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// EngineConfig holds dispatch engine configuration.
type EngineConfig struct {
	MaxExpansions int `mapstructure:"max_expansions"`
	QueueHint     int `mapstructure:"queue_hint"`
}

// HarnessConfig holds scenario harness configuration.
type HarnessConfig struct {
	// GoldenDir holds golden traces. A relative path is resolved against
	// the directory of each scenario file.
	GoldenDir string `mapstructure:"golden_dir"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engine.max_expansions", 10000)
	v.SetDefault("engine.queue_hint", 64)

	v.SetDefault("harness.golden_dir", "golden")
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Engine.MaxExpansions < 0 {
		errs = append(errs, fmt.Errorf("engine.max_expansions must be >= 0, got %d", c.Engine.MaxExpansions))
	}
	if c.Engine.QueueHint < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_hint must be >= 0, got %d", c.Engine.QueueHint))
	}
	return errors.Join(errs...)
}

// EngineOptions turns the engine section into engine options.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithMaxExpansions(c.Engine.MaxExpansions),
		engine.WithQueueHint(c.Engine.QueueHint),
	}
}

// NewLogger builds the slog logger described by cfg, writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
