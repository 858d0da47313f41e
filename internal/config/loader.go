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
// built-in defaults, applies TRIARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file so a deployment can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRIARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Mexc ──
	setStr(&cfg.Mexc.BaseURL, "TRIARB_MEXC_BASE_URL")
	setStr(&cfg.Mexc.APIKey, "TRIARB_MEXC_API_KEY")
	setStr(&cfg.Mexc.SecretKey, "TRIARB_MEXC_SECRET_KEY")
	setStr(&cfg.Mexc.EncryptedSecretPath, "TRIARB_MEXC_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Mexc.SecretPassword, "TRIARB_MEXC_SECRET_PASSWORD")
	setInt64(&cfg.Mexc.RecvWindowMs, "TRIARB_MEXC_RECV_WINDOW_MS")
	setDuration(&cfg.Mexc.RequestTimeout, "TRIARB_MEXC_REQUEST_TIMEOUT")
	setInt(&cfg.Mexc.RateLimit, "TRIARB_MEXC_RATE_LIMIT")
	setDuration(&cfg.Mexc.RateWindow, "TRIARB_MEXC_RATE_WINDOW")

	// ── Triangle ──
	setStr(&cfg.Triangle.QuoteA, "TRIARB_TRIANGLE_QUOTE_A")
	setStr(&cfg.Triangle.AB, "TRIARB_TRIANGLE_A_B")
	setStr(&cfg.Triangle.BQuote, "TRIARB_TRIANGLE_B_QUOTE")

	// ── Trade ──
	setFloat64(&cfg.Trade.InitialAmount, "TRIARB_TRADE_INITIAL_AMOUNT")
	setBool(&cfg.Trade.DryRun, "TRIARB_TRADE_DRY_RUN")
	setStr(&cfg.Trade.LegPolicy, "TRIARB_TRADE_LEG_POLICY")

	// ── Fees ──
	setFloat64(&cfg.Fees.MakerRate, "TRIARB_FEES_MAKER_RATE")
	setFloat64(&cfg.Fees.TakerRate, "TRIARB_FEES_TAKER_RATE")

	// ── Loop ──
	setDuration(&cfg.Loop.PollInterval, "TRIARB_LOOP_POLL_INTERVAL")
	setDuration(&cfg.Loop.LockTTL, "TRIARB_LOOP_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRIARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRIARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRIARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRIARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRIARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRIARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRIARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRIARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRIARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRIARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRIARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIARB_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "TRIARB_REDIS_QUOTE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRIARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRIARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRIARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRIARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRIARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRIARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRIARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRIARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRIARB_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TRIARB_ARCHIVE_CRON")
	setBool(&cfg.Archive.Purge, "TRIARB_ARCHIVE_PURGE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIARB_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "TRIARB_SERVER_HOST")
	setInt(&cfg.Server.Port, "TRIARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRIARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRIARB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "TRIARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TRIARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRIARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRIARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRIARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRIARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRIARB_MODE")
	setStr(&cfg.LogLevel, "TRIARB_LOG_LEVEL")
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
