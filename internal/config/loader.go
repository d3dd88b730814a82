package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KLASH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KLASH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.ResolutionDelay, "KLASH_ENGINE_RESOLUTION_DELAY")
	setDuration(&cfg.Engine.LockMaxWait, "KLASH_ENGINE_LOCK_MAX_WAIT")
	setStr(&cfg.Engine.Oracle, "KLASH_ENGINE_ORACLE")
	setFloat64(&cfg.Engine.DefaultFeePercent, "KLASH_ENGINE_DEFAULT_FEE_PERCENT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KLASH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KLASH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KLASH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KLASH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KLASH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KLASH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KLASH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KLASH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KLASH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KLASH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KLASH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KLASH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KLASH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KLASH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KLASH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KLASH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KLASH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KLASH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KLASH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KLASH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KLASH_S3_REGION")
	setStr(&cfg.S3.Bucket, "KLASH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KLASH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KLASH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KLASH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KLASH_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setBool(&cfg.Settlement.Enabled, "KLASH_SETTLEMENT_ENABLED")
	setStr(&cfg.Settlement.GatewayURL, "KLASH_SETTLEMENT_GATEWAY_URL")
	setStr(&cfg.Settlement.APIKey, "KLASH_SETTLEMENT_API_KEY")
	setDuration(&cfg.Settlement.ReconcileInterval, "KLASH_SETTLEMENT_RECONCILE_INTERVAL")
	setStr(&cfg.Settlement.APISecret, "KLASH_SETTLEMENT_API_SECRET")
	setStr(&cfg.Settlement.SecretFile, "KLASH_SETTLEMENT_SECRET_FILE")
	setStr(&cfg.Settlement.SecretPassword, "KLASH_SETTLEMENT_SECRET_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KLASH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KLASH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "KLASH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "KLASH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "KLASH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "KLASH_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KLASH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KLASH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KLASH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KLASH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "KLASH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
