// Package config loads and validates service configuration via Viper.
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
	Auth    AuthConfig    `mapstructure:"auth"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Tool    ToolConfig    `mapstructure:"tool"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Range   RangeConfig   `mapstructure:"range"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StoreConfig locates the durable queue files.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig configures the optional dedup accelerator.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
	Key     string `mapstructure:"key"`
}

// ToolConfig describes the external forwarding tool invocation.
type ToolConfig struct {
	Path      string   `mapstructure:"path"`
	ExtraArgs []string `mapstructure:"extra_args"`
}

// WorkerConfig governs the forwarding loop.
type WorkerConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// RangeConfig bounds range-shorthand expansion.
type RangeConfig struct {
	Limit int `mapstructure:"limit"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAYQ")
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
	v.SetDefault("store.dir", "data")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "relayq:processed")
	v.SetDefault("tool.path", "tdl")
	v.SetDefault("worker.cooldown_seconds", 5)
	v.SetDefault("range.limit", 1000)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir must be set")
	}
	if c.Tool.Path == "" {
		return fmt.Errorf("tool.path must be set")
	}
	if c.Worker.CooldownSeconds < 0 {
		return fmt.Errorf("worker.cooldown_seconds must be >= 0")
	}
	if c.Range.Limit <= 0 {
		return fmt.Errorf("range.limit must be > 0")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Cooldown converts the worker cooldown into a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Worker.CooldownSeconds) * time.Second
}
