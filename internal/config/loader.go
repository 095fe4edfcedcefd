package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CARBONEX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CARBONEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setInt64(&cfg.Exchange.ChainID, "CARBONEX_EXCHANGE_CHAIN_ID")
	setStr(&cfg.Exchange.PrivateKey, "CARBONEX_EXCHANGE_PRIVATE_KEY")
	setStr(&cfg.Exchange.EncryptedKeyPath, "CARBONEX_EXCHANGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "CARBONEX_EXCHANGE_KEY_PASSWORD")
	setDuration(&cfg.Exchange.LockTTL, "CARBONEX_EXCHANGE_LOCK_TTL")
	setDuration(&cfg.Exchange.LockWait, "CARBONEX_EXCHANGE_LOCK_WAIT")
	setDuration(&cfg.Exchange.IntentMaxTTL, "CARBONEX_EXCHANGE_INTENT_MAX_TTL")
	setBool(&cfg.Exchange.Certificates, "CARBONEX_EXCHANGE_CERTIFICATES")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "CARBONEX_STORAGE_BACKEND")
	setStr(&cfg.Storage.Cache, "CARBONEX_STORAGE_CACHE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.DSN, "CARBONEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CARBONEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CARBONEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CARBONEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CARBONEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CARBONEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CARBONEX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CARBONEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CARBONEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CARBONEX_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "CARBONEX_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "CARBONEX_REDIS_URL")
	setStr(&cfg.Redis.Addr, "CARBONEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CARBONEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CARBONEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CARBONEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CARBONEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CARBONEX_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "CARBONEX_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CARBONEX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CARBONEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CARBONEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "CARBONEX_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "CARBONEX_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "CARBONEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CARBONEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CARBONEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CARBONEX_S3_FORCE_PATH_STYLE")

	// ── External ledgers ──
	setLedgerAPI(&cfg.Custody, "CARBONEX_CUSTODY")
	setLedgerAPI(&cfg.Payment, "CARBONEX_PAYMENT")

	// ── Server ──
	setInt(&cfg.Server.Port, "CARBONEX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CARBONEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CARBONEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CARBONEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "CARBONEX_SERVER_RATE_LIMIT_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "CARBONEX_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CARBONEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CARBONEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CARBONEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CARBONEX_NOTIFY_EVENTS")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "CARBONEX_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CARBONEX_ARCHIVE_CRON")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "CARBONEX_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Endpoint, "CARBONEX_TELEMETRY_ENDPOINT")
	setStr(&cfg.Telemetry.ServiceName, "CARBONEX_TELEMETRY_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRatio, "CARBONEX_TELEMETRY_SAMPLE_RATIO")

	// ── Top-level ──
	setStr(&cfg.Mode, "CARBONEX_MODE")
	setStr(&cfg.LogLevel, "CARBONEX_LOG_LEVEL")
}

func setLedgerAPI(dst *LedgerAPIConfig, prefix string) {
	setStr(&dst.BaseURL, prefix+"_BASE_URL")
	setStr(&dst.APIKey, prefix+"_API_KEY")
	setStr(&dst.APISecret, prefix+"_API_SECRET")
	setDuration(&dst.Timeout, prefix+"_TIMEOUT")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
