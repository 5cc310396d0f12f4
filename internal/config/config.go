// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Poll    PollConfig    `mapstructure:"poll"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StreamConfig governs the push channel connector.
type StreamConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	MaxRetries       int    `mapstructure:"max_retries"`
	ReconnectDelayMS int    `mapstructure:"reconnect_delay_ms"`
}

// PollConfig governs the adaptive polling scheduler.
type PollConfig struct {
	FetchURL         string  `mapstructure:"fetch_url"`
	BaseIntervalMS   int     `mapstructure:"base_interval_ms"`
	MaxIntervalMS    int     `mapstructure:"max_interval_ms"`
	BackoffFactor    float64 `mapstructure:"backoff_factor"`
	UseBackoff       bool    `mapstructure:"use_backoff"`
	PauseOnHidden    bool    `mapstructure:"pause_on_hidden"`
	IdleThresholdMS  int     `mapstructure:"idle_threshold_ms"`
	PendingTimeoutMS int     `mapstructure:"pending_timeout_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("stream.max_retries", 5)
	v.SetDefault("stream.reconnect_delay_ms", 3000)
	v.SetDefault("poll.base_interval_ms", 5000)
	v.SetDefault("poll.max_interval_ms", 60000)
	v.SetDefault("poll.backoff_factor", 1.5)
	v.SetDefault("poll.use_backoff", true)
	v.SetDefault("poll.pause_on_hidden", true)
	v.SetDefault("poll.idle_threshold_ms", 30000)
	v.SetDefault("poll.pending_timeout_ms", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint must be set")
	}
	if !strings.HasPrefix(c.Stream.Endpoint, "ws://") && !strings.HasPrefix(c.Stream.Endpoint, "wss://") {
		return fmt.Errorf("stream.endpoint must be a ws:// or wss:// URL")
	}
	if c.Stream.MaxRetries <= 0 {
		return fmt.Errorf("stream.max_retries must be > 0")
	}
	if c.Poll.BaseIntervalMS <= 0 {
		return fmt.Errorf("poll.base_interval_ms must be > 0")
	}
	if c.Poll.MaxIntervalMS < c.Poll.BaseIntervalMS {
		return fmt.Errorf("poll.max_interval_ms must be >= poll.base_interval_ms")
	}
	if c.Poll.BackoffFactor <= 1 {
		return fmt.Errorf("poll.backoff_factor must be > 1")
	}
	return nil
}

// ReconnectDelay converts the millisecond knob into a duration.
func (c StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// BaseInterval converts the millisecond knob into a duration.
func (c PollConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalMS) * time.Millisecond
}

// MaxInterval converts the millisecond knob into a duration.
func (c PollConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

// IdleThreshold converts the millisecond knob into a duration.
func (c PollConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMS) * time.Millisecond
}

// PendingTimeout converts the millisecond knob into a duration. Zero keeps
// the pending flag caller-managed.
func (c PollConfig) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutMS) * time.Millisecond
}
