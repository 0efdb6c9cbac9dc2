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
// built-in defaults, applies BETME_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BETME_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETME_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETME_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETME_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETME_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETME_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETME_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETME_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETME_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETME_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETME_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETME_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETME_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETME_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETME_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETME_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETME_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETME_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETME_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETME_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETME_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETME_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETME_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETME_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.RPCURL, "BETME_ORACLE_RPC_URL")
	setDuration(&cfg.Oracle.CacheMaxAge, "BETME_ORACLE_CACHE_MAX_AGE")
	setDuration(&cfg.Oracle.QuoteTTL, "BETME_ORACLE_QUOTE_TTL")

	// ── Resolver ──
	setDuration(&cfg.Resolver.Interval, "BETME_RESOLVER_INTERVAL")
	setDuration(&cfg.Resolver.LockTTL, "BETME_RESOLVER_LOCK_TTL")
	setInt(&cfg.Resolver.BatchSize, "BETME_RESOLVER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BETME_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "BETME_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BETME_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "BETME_ARCHIVE_BATCH_SIZE")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "BETME_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "BETME_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "BETME_OPERATOR_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BETME_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BETME_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETME_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETME_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BETME_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "BETME_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETME_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETME_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETME_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETME_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETME_MODE")
	setStr(&cfg.LogLevel, "BETME_LOG_LEVEL")
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
