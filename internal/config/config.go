// Package config loads the service's nested configuration: a
// config/default.yaml base, an optional config/<env>.yaml overlay, and
// AGENT_IAM__-prefixed, double-underscore-delimited environment overrides —
// the same shape original_source/src/config.rs builds with Rust's `config`
// crate, realized here with spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated process configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Audit    AuditConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	MaxOpenConn int    `mapstructure:"max_open_conn"`
	MaxIdleConn int    `mapstructure:"max_idle_conn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret                   string `mapstructure:"jwt_secret"`
	JWTExpirationSeconds        int    `mapstructure:"jwt_expiration_seconds"`
	RefreshTokenExpirationSecs  int    `mapstructure:"refresh_token_expiration_seconds"`
	PasswordMinLength           int    `mapstructure:"password_min_length"`
	MaxLoginAttempts            int    `mapstructure:"max_login_attempts"`
	LockoutDurationSeconds      int    `mapstructure:"lockout_duration_seconds"`
	BiscuitRootKeyID             string `mapstructure:"biscuit_root_key_id"`
	BiscuitRootKeyHex            string `mapstructure:"biscuit_root_key_hex"`
	DelegationDepthCap           int    `mapstructure:"delegation_depth_cap"`
	AgentTTLMinSeconds           int    `mapstructure:"agent_ttl_min_seconds"`
	AgentTTLMaxSeconds           int    `mapstructure:"agent_ttl_max_seconds"`
	AgentTTLDefaultSeconds       int    `mapstructure:"agent_ttl_default_seconds"`
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int `mapstructure:"default_requests_per_minute"`
	AuthRequestsPerMinute    int `mapstructure:"auth_requests_per_minute"`
}

type AuditConfig struct {
	AsyncBatchSize          int      `mapstructure:"async_batch_size"`
	AsyncFlushIntervalMs    int      `mapstructure:"async_flush_interval_ms"`
	ChannelBufferSize       int      `mapstructure:"channel_buffer_size"`
	StorageBackends         []string `mapstructure:"storage_backends"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads config/default.{yaml,...}, overlays config/<env>.yaml if
// present, then applies AGENT_IAM__SECTION__KEY environment overrides, and
// validates the result.
func Load(environment string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading default config: %w", err)
		}
	}

	if environment != "" {
		ev := viper.New()
		ev.SetConfigName(environment)
		ev.SetConfigType("yaml")
		ev.AddConfigPath("config")
		if err := ev.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(ev.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging %s config: %w", environment, err)
			}
		}
	}

	// viper joins prefix and key with one "_", so this prefix yields
	// AGENT_IAM__SECTION__KEY.
	v.SetEnvPrefix("AGENT_IAM_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	// Empty defaults register these keys with viper, so Unmarshal picks up
	// their environment overrides even when no config file sets them.
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.biscuit_root_key_id", "")
	v.SetDefault("auth.biscuit_root_key_hex", "")
	v.SetDefault("database.max_open_conn", 20)
	v.SetDefault("database.max_idle_conn", 5)
	v.SetDefault("auth.jwt_expiration_seconds", 900)
	v.SetDefault("auth.refresh_token_expiration_seconds", 1209600)
	v.SetDefault("auth.password_min_length", 8)
	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.lockout_duration_seconds", 900)
	v.SetDefault("auth.delegation_depth_cap", 10)
	v.SetDefault("auth.agent_ttl_min_seconds", 60)
	v.SetDefault("auth.agent_ttl_max_seconds", 86400)
	v.SetDefault("auth.agent_ttl_default_seconds", 3600)
	v.SetDefault("rate_limit.default_requests_per_minute", 60)
	v.SetDefault("rate_limit.auth_requests_per_minute", 5)
	v.SetDefault("audit.async_batch_size", 100)
	v.SetDefault("audit.async_flush_interval_ms", 1000)
	v.SetDefault("audit.channel_buffer_size", 10000)
	v.SetDefault("audit.storage_backends", []string{"postgres"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("config: server.port must be set")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url must be set")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url must be set")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 32 bytes (AGENT_IAM__AUTH__JWT_SECRET)")
	}
	if c.Auth.PasswordMinLength < 8 {
		return fmt.Errorf("config: auth.password_min_length must be >= 8")
	}
	return nil
}

// AccessTokenTTL is a convenience accessor.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.JWTExpirationSeconds) * time.Second
}

// RefreshTokenTTL is a convenience accessor.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenExpirationSecs) * time.Second
}

// AuditFlushInterval is a convenience accessor.
func (c *Config) AuditFlushInterval() time.Duration {
	return time.Duration(c.Audit.AsyncFlushIntervalMs) * time.Millisecond
}
