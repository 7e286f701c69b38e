package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "0xabc"
	return cfg
}

func TestDefaultsValidateWithOperatorKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with operator key should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "batch" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"unknown pricing mode", func(c *Config) { c.Engine.PricingMode = "vwap" }, "pricing_mode"},
		{"fixed price too large", func(c *Config) { c.Engine.FixedPrice = 1.5 }, "fixed_price"},
		{"fee rate of one", func(c *Config) { c.Trading.DefaultFeeRate = 1 }, "default_fee_rate"},
		{"zero seed", func(c *Config) { c.Trading.DefaultSeedLiquidity = 0 }, "default_seed_liquidity"},
		{"no operator key", func(c *Config) { c.Operator = OperatorConfig{} }, "operator"},
		{"encrypted key without password", func(c *Config) {
			c.Operator = OperatorConfig{EncryptedKeyPath: "/tmp/key.json"}
		}, "key_password"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"pool mins exceed max", func(c *Config) {
			c.Postgres.PoolMinConns = 20
			c.Postgres.PoolMaxConns = 5
		}, "pool_min_conns"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_MODE", "full")
	t.Setenv("MARKETD_REDIS_ADDR", "redis:6380")
	t.Setenv("MARKETD_ENGINE_PRICING_MODE", "fixed")
	t.Setenv("MARKETD_TRADING_LOCK_TTL", "10s")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "full" {
		t.Errorf("mode = %q, want full", cfg.Mode)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("redis addr = %q, want redis:6380", cfg.Redis.Addr)
	}
	if cfg.Engine.PricingMode != "fixed" {
		t.Errorf("pricing mode = %q, want fixed", cfg.Engine.PricingMode)
	}
	if cfg.Trading.LockTTL.String() != "10s" {
		t.Errorf("lock ttl = %v, want 10s", cfg.Trading.LockTTL)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"

	red := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"postgres password":    red.Postgres.Password,
		"redis password":       red.Redis.Password,
		"s3 secret key":        red.S3.SecretKey,
		"operator private key": red.Operator.PrivateKey,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("redaction mutated the original config")
	}
}
