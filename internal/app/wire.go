package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mobelieve/mexc-triarb/internal/blob/s3"
	"github.com/mobelieve/mexc-triarb/internal/cache/redis"
	"github.com/mobelieve/mexc-triarb/internal/config"
	"github.com/mobelieve/mexc-triarb/internal/domain"
	"github.com/mobelieve/mexc-triarb/internal/notify"
	"github.com/mobelieve/mexc-triarb/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the modes use. Every field
// may be nil; the loop runs with none of them.
type Dependencies struct {
	// Stores
	ArbExecutionStore domain.ArbExecutionStore
	AuditStore        domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsInfra reports whether mode runs the loop and therefore benefits from
// persistence, caching and archiving. account mode only checks credentials.
func needsInfra(mode string) bool {
	return mode == "trade" || mode == "monitor"
}

// Wire constructs the concrete implementations enabled by cfg and returns
// them together with a cleanup function that should be called on shutdown to
// release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	if !needsInfra(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ArbExecutionStore = postgres.NewArbExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		logger.InfoContext(ctx, "postgres connected")
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 archive (needs the execution store to read from) ---
	if cfg.Archive.Enabled && deps.ArbExecutionStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.ArbExecutionStore,
			deps.AuditStore,
			cfg.Archive.Purge,
		)
	}

	// --- Notifications ---
	deps.Notifier = notify.FromSettings(notify.Settings{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}
