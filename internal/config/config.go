// Package config defines the top-level configuration for the wager-pool
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KLASH_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Seed       []SeedMarket     `toml:"seed"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the core wager-pool engine parameters.
type EngineConfig struct {
	// ResolutionDelay is how long an active market plays out before the
	// oracle is consulted.
	ResolutionDelay duration `toml:"resolution_delay"`
	// LockMaxWait bounds how long a mutation waits for a market's exclusive
	// section before failing as busy.
	LockMaxWait duration `toml:"lock_max_wait"`
	// Oracle selects the outcome decision strategy. Currently "random".
	Oracle string `toml:"oracle"`
	// DefaultFeePercent is the platform fee fraction applied to markets
	// created without an explicit fee.
	DefaultFeePercent float64 `toml:"default_fee_percent"`
}

// PostgresConfig holds the archive database connection parameters. The
// archive is optional; with Enabled false the engine runs memory-only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// exports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig holds the transfer gateway parameters. With Enabled false
// payouts are recorded on the ledger but no transfers are attempted.
type SettlementConfig struct {
	Enabled           bool     `toml:"enabled"`
	GatewayURL        string   `toml:"gateway_url"`
	APIKey            string   `toml:"api_key"`
	ReconcileInterval duration `toml:"reconcile_interval"`

	// Request signing. Either the raw secret or the path to an encrypted
	// secret file plus its password. Both empty disables signing.
	APISecret      string `toml:"api_secret"`
	SecretFile     string `toml:"secret_file"`
	SecretPassword string `toml:"secret_password"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SeedMarket describes a market opened automatically at startup.
type SeedMarket struct {
	Question    string   `toml:"question"`
	Outcomes    []string `toml:"outcomes"`
	PlayerLimit int      `toml:"player_limit"`
	FeePercent  float64  `toml:"fee_percent"`
	ClosesIn    duration `toml:"closes_in"`
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
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ResolutionDelay:   duration{60 * time.Second},
			LockMaxWait:       duration{2 * time.Second},
			Oracle:            "random",
			DefaultFeePercent: 0.02,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerpool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerpool-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			Enabled:           false,
			ReconcileInterval: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       20,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "error"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.ResolutionDelay.Duration <= 0 {
		errs = append(errs, "engine: resolution_delay must be > 0")
	}
	if c.Engine.LockMaxWait.Duration <= 0 {
		errs = append(errs, "engine: lock_max_wait must be > 0")
	}
	if c.Engine.DefaultFeePercent < 0 || c.Engine.DefaultFeePercent >= 1 {
		errs = append(errs, fmt.Sprintf("engine: default_fee_percent must be a fraction in [0, 1), got %v", c.Engine.DefaultFeePercent))
	}
	if c.Engine.Oracle != "" && c.Engine.Oracle != "random" {
		errs = append(errs, fmt.Sprintf("engine: unknown oracle %q (valid: random)", c.Engine.Oracle))
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: settlement export requires postgres to be enabled")
		}
	}

	// Settlement
	if c.Settlement.Enabled {
		if c.Settlement.GatewayURL == "" {
			errs = append(errs, "settlement: gateway_url must not be empty when enabled")
		}
		if c.Settlement.ReconcileInterval.Duration <= 0 {
			errs = append(errs, "settlement: reconcile_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Seed markets
	for i, s := range c.Seed {
		if strings.TrimSpace(s.Question) == "" {
			errs = append(errs, fmt.Sprintf("seed[%d]: question must not be empty", i))
		}
		if len(s.Outcomes) != 2 {
			errs = append(errs, fmt.Sprintf("seed[%d]: exactly two outcomes required, got %d", i, len(s.Outcomes)))
		}
		if s.PlayerLimit < 2 {
			errs = append(errs, fmt.Sprintf("seed[%d]: player_limit must be >= 2, got %d", i, s.PlayerLimit))
		}
		if s.FeePercent < 0 || s.FeePercent >= 1 {
			errs = append(errs, fmt.Sprintf("seed[%d]: fee_percent must be a fraction in [0, 1), got %v", i, s.FeePercent))
		}
		if s.ClosesIn.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("seed[%d]: closes_in must be > 0", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
