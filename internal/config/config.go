// Package config defines the top-level configuration for the triangular
// arbitrage bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIARB_* environment variables.
type Config struct {
	Mexc     MexcConfig     `toml:"mexc"`
	Triangle TriangleConfig `toml:"triangle"`
	Trade    TradeConfig    `toml:"trade"`
	Fees     FeesConfig     `toml:"fees"`
	Loop     LoopConfig     `toml:"loop"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MexcConfig holds the exchange endpoint and API credentials. The secret can
// be given in plain text or as an encrypted file plus password.
type MexcConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	SecretKey           string   `toml:"secret_key"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindowMs        int64    `toml:"recv_window_ms"`
	RequestTimeout      duration `toml:"request_timeout"`
	// RateLimit caps outbound requests per RateWindow. Zero disables the
	// limiter. Requires redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// TriangleConfig names the three pairs of the cycle quote→A→B→quote.
type TriangleConfig struct {
	QuoteA string `toml:"quote_a"`
	AB     string `toml:"a_b"`
	BQuote string `toml:"b_quote"`
}

// TradeConfig controls how much is committed per cycle and how legs are sent.
type TradeConfig struct {
	InitialAmount float64 `toml:"initial_amount"`
	DryRun        bool    `toml:"dry_run"`
	LegPolicy     string  `toml:"leg_policy"`
	// StepSizes maps a symbol to its quantity increment, e.g.
	// BTCUSDT = "0.000001". Quantities of other symbols are sent unrounded.
	StepSizes map[string]string `toml:"step_sizes"`
}

// FeesConfig holds fee rates in percent (0.1 means 0.1%).
type FeesConfig struct {
	MakerRate float64 `toml:"maker_rate"`
	TakerRate float64 `toml:"taker_rate"`
}

// LoopConfig holds polling parameters.
type LoopConfig struct {
	PollInterval duration `toml:"poll_interval"`
	LockTTL      duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters. Leaving both DSN and
// Host empty disables execution history.
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

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// quote cache, loop lock, signal bus and rate limiter.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
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

// ArchiveConfig controls the periodic export of old executions to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	Purge         bool   `toml:"purge"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "10s", "500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP control surface parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	// Host is the listen address; empty listens on every interface.
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// it; it needs redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mexc: MexcConfig{
			BaseURL:        "https://api.mexc.com",
			RecvWindowMs:   5000,
			RequestTimeout: duration{10 * time.Second},
			RateWindow:     duration{time.Second},
		},
		Triangle: TriangleConfig{
			QuoteA: "BTCUSDT",
			AB:     "ETHBTC",
			BQuote: "ETHUSDT",
		},
		Trade: TradeConfig{
			InitialAmount: 1500,
			LegPolicy:     string(domain.LegPolicyBestEffort),
		},
		Fees: FeesConfig{
			MakerRate: 0,
			TakerRate: 0.1,
		},
		Loop: LoopConfig{
			PollInterval: duration{10 * time.Second},
			LockTTL:      duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			QuoteTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "triarb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
			Purge:         true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "partial_execution", "execution_failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"account": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// TriangleSymbols returns the configured triangle.
func (c *Config) TriangleSymbols() domain.Triangle {
	return domain.Triangle{QuoteA: c.Triangle.QuoteA, AB: c.Triangle.AB, BQuote: c.Triangle.BQuote}
}

// InitialAmount returns trade.initial_amount as a decimal.
func (c *Config) InitialAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.Trade.InitialAmount)
}

// StepSizes returns trade.step_sizes as decimals. Entries that do not parse
// as a positive decimal are skipped; Validate reports them.
func (c *Config) StepSizes() domain.StepSizes {
	if len(c.Trade.StepSizes) == 0 {
		return nil
	}
	out := make(domain.StepSizes, len(c.Trade.StepSizes))
	for sym, raw := range c.Trade.StepSizes {
		step, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !step.IsPositive() {
			continue
		}
		out[strings.ToUpper(sym)] = step
	}
	return out
}

// FeeSchedule returns the fee rates as decimals.
func (c *Config) FeeSchedule() domain.FeeSchedule {
	return domain.FeeSchedule{
		MakerRate: decimal.NewFromFloat(c.Fees.MakerRate),
		TakerRate: decimal.NewFromFloat(c.Fees.TakerRate),
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, account)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Mexc
	if c.Mexc.BaseURL == "" {
		errs = append(errs, "mexc: base_url must not be empty")
	}
	if c.Mexc.RequestTimeout.Duration <= 0 {
		errs = append(errs, "mexc: request_timeout must be > 0")
	}
	if c.Mexc.RecvWindowMs < 0 || c.Mexc.RecvWindowMs > 60000 {
		errs = append(errs, fmt.Sprintf("mexc: recv_window_ms must be 0-60000, got %d", c.Mexc.RecvWindowMs))
	}
	if c.Mexc.EncryptedSecretPath != "" && c.Mexc.SecretPassword == "" {
		errs = append(errs, "mexc: secret_password is required when encrypted_secret_path is set")
	}
	if c.Mexc.RateLimit < 0 {
		errs = append(errs, "mexc: rate_limit must be >= 0")
	}
	if c.Mexc.RateLimit > 0 {
		if c.Mexc.RateWindow.Duration <= 0 {
			errs = append(errs, "mexc: rate_window must be > 0 when rate_limit is set")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "mexc: rate_limit requires redis.addr")
		}
	}
	// trade and monitor can receive credentials later through the control
	// surface; account checks them immediately.
	if mode == "account" {
		if c.Mexc.APIKey == "" {
			errs = append(errs, "mexc: api_key is required for mode account")
		}
		if c.Mexc.SecretKey == "" && c.Mexc.EncryptedSecretPath == "" {
			errs = append(errs, "mexc: either secret_key or encrypted_secret_path must be set for mode account")
		}
	}

	// Triangle
	if c.Triangle.QuoteA == "" || c.Triangle.AB == "" || c.Triangle.BQuote == "" {
		errs = append(errs, "triangle: quote_a, a_b and b_quote must all be set")
	}

	// Trade
	if c.Trade.InitialAmount <= 0 {
		errs = append(errs, "trade: initial_amount must be > 0")
	}
	for sym, raw := range c.Trade.StepSizes {
		if step, err := decimal.NewFromString(strings.TrimSpace(raw)); err != nil || !step.IsPositive() {
			errs = append(errs, fmt.Sprintf("trade: step_sizes.%s must be a positive decimal, got %q", sym, raw))
		}
	}
	if !domain.LegPolicy(c.Trade.LegPolicy).Valid() {
		errs = append(errs, fmt.Sprintf("trade: unknown leg_policy %q (valid: best_effort, halt_on_reject)", c.Trade.LegPolicy))
	}

	// Fees
	if c.Fees.MakerRate < 0 || c.Fees.MakerRate >= 100 {
		errs = append(errs, fmt.Sprintf("fees: maker_rate must be in [0, 100), got %v", c.Fees.MakerRate))
	}
	if c.Fees.TakerRate < 0 || c.Fees.TakerRate >= 100 {
		errs = append(errs, fmt.Sprintf("fees: taker_rate must be in [0, 100), got %v", c.Fees.TakerRate))
	}

	// Loop
	if c.Loop.PollInterval.Duration <= 0 {
		errs = append(errs, "loop: poll_interval must be > 0")
	}
	if c.Redis.Addr != "" && c.Loop.LockTTL.Duration <= 0 {
		errs = append(errs, "loop: lock_ttl must be > 0 when redis is configured")
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled() {
			errs = append(errs, "archive: requires postgres")
		}
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, "archive: s3.endpoint and s3.bucket must be set")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: cron: %v", err))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		// The start endpoint falls back to the configured exchange
		// credentials, so a live trading process never exposes it unguarded.
		if mode == "trade" && !c.Trade.DryRun && c.Server.APIKey == "" {
			errs = append(errs, "server: api_key is required when mode is trade and dry_run is off (or set server.enabled = false)")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 {
			if c.Server.RateWindow.Duration <= 0 {
				errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
			}
			if c.Redis.Addr == "" {
				errs = append(errs, "server: rate_limit requires redis.addr")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
