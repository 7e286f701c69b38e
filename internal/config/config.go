// Package config defines the top-level configuration for marketd and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Trading  TradingConfig  `toml:"trading"`
	Archive  ArchiveConfig  `toml:"archive"`
	Operator OperatorConfig `toml:"operator"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds pricing engine parameters.
type EngineConfig struct {
	// PricingMode selects how execution prices are derived: "cpmm" prices
	// along the reserve curve, "fixed" charges a flat per-share price.
	PricingMode string  `toml:"pricing_mode"`
	FixedPrice  float64 `toml:"fixed_price"`
}

// TradingConfig holds market and trade defaults.
type TradingConfig struct {
	// DefaultFeeRate is applied to pools created without an explicit rate.
	DefaultFeeRate float64 `toml:"default_fee_rate"`
	// DefaultSeedLiquidity seeds each reserve of a new market's pool.
	DefaultSeedLiquidity float64 `toml:"default_seed_liquidity"`
	// MaxQuantity caps the share quantity of a single trade.
	MaxQuantity float64 `toml:"max_quantity"`
	// RateLimitPerMinute bounds trade submissions per wallet.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
	// LockTTL bounds how long a per-market settlement lock may be held.
	LockTTL duration `toml:"lock_ttl"`
	// PriceCacheTTL bounds staleness of the cached implied prices.
	PriceCacheTTL duration `toml:"price_cache_ttl"`
}

// ArchiveConfig holds trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// OperatorConfig holds the operator signing key used to attest market
// resolutions.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NotifyConfig holds operator alerting parameters. Channels with empty
// credentials are skipped; Events restricts which event types are forwarded
// (empty means all).
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminKey guards operator endpoints (market creation, resolution,
	// liquidity). Empty leaves them open, which is only sensible in dev.
	AdminKey string `toml:"admin_key"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			PricingMode: "cpmm",
			FixedPrice:  0.01,
		},
		Trading: TradingConfig{
			DefaultFeeRate:       0.02,
			DefaultSeedLiquidity: 500,
			MaxQuantity:          1_000_000,
			RateLimitPerMinute:   60,
			LockTTL:              duration{5 * time.Second},
			PriceCacheTTL:        duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validPricingModes enumerates the accepted values for Engine.PricingMode.
var validPricingModes = map[string]bool{
	"cpmm":  true,
	"fixed": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when archival runs.
	if c.Archive.Enabled || c.Mode == "archive" || c.Mode == "full" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Engine
	if !validPricingModes[strings.ToLower(c.Engine.PricingMode)] {
		errs = append(errs, fmt.Sprintf("engine: unknown pricing_mode %q (valid: cpmm, fixed)", c.Engine.PricingMode))
	}
	if c.Engine.FixedPrice <= 0 || c.Engine.FixedPrice >= 1 {
		errs = append(errs, fmt.Sprintf("engine: fixed_price must be in (0, 1), got %v", c.Engine.FixedPrice))
	}

	// Trading
	if c.Trading.DefaultFeeRate < 0 || c.Trading.DefaultFeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("trading: default_fee_rate must be in [0, 1), got %v", c.Trading.DefaultFeeRate))
	}
	if c.Trading.DefaultSeedLiquidity <= 0 {
		errs = append(errs, "trading: default_seed_liquidity must be > 0")
	}
	if c.Trading.MaxQuantity <= 0 {
		errs = append(errs, "trading: max_quantity must be > 0")
	}
	if c.Trading.RateLimitPerMinute < 1 {
		errs = append(errs, "trading: rate_limit_per_minute must be >= 1")
	}
	if c.Trading.LockTTL.Duration <= 0 {
		errs = append(errs, "trading: lock_ttl must be positive")
	}

	// Operator — a key source is required to attest resolutions.
	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
