package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/klashbet/wagerpool/internal/blob/s3"
	"github.com/klashbet/wagerpool/internal/cache/redis"
	"github.com/klashbet/wagerpool/internal/config"
	"github.com/klashbet/wagerpool/internal/crypto"
	"github.com/klashbet/wagerpool/internal/domain"
	"github.com/klashbet/wagerpool/internal/engine"
	"github.com/klashbet/wagerpool/internal/notify"
	"github.com/klashbet/wagerpool/internal/settle"
	"github.com/klashbet/wagerpool/internal/store/postgres"
)

// Dependencies bundles every collaborator the application needs to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional collaborators stay nil when their backing service is disabled.
type Dependencies struct {
	// Engine state
	Markets domain.MarketStore
	Ledger  domain.BetLedger

	// Archive stores (nil without Postgres)
	MarketArchive domain.MarketArchive
	BetArchive    domain.BetArchive
	AuditStore    domain.AuditStore

	// Redis-backed collaborators (nil without Redis)
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob export (nil without S3 + Postgres)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Settlement (nil when the gateway is not configured)
	Settler domain.Settler

	// Event sink: bus-backed when Redis is wired, log-backed otherwise.
	Notifier domain.Notifier

	// Health probes by dependency name.
	Pingers map[string]Pinger
}

// Pinger mirrors the handler-side health probe without importing the server
// packages here.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Markets: engine.NewMarketStore(engine.WithMaxWait(cfg.Engine.LockMaxWait.Duration)),
		Ledger:  engine.NewBetLedger(),
		Pingers: make(map[string]Pinger),
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient
	}

	// --- PostgreSQL archive ---
	if cfg.Postgres.Enabled {
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
		deps.MarketArchive = postgres.NewMarketArchive(pool)
		deps.BetArchive = postgres.NewBetArchive(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgPinger{pgClient}
	}

	// --- S3 blob export (requires the archive stores for its queries) ---
	if cfg.S3.Enabled && deps.MarketArchive != nil {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewExporter(deps.BlobWriter, deps.MarketArchive, deps.BetArchive, deps.AuditStore)
	}

	// --- Settlement gateway ---
	if cfg.Settlement.Enabled {
		var auth *crypto.RequestAuth
		if cfg.Settlement.APISecret != "" || cfg.Settlement.SecretFile != "" {
			secret, err := crypto.LoadSecret(crypto.SecretConfig{
				RawSecret:           cfg.Settlement.APISecret,
				EncryptedSecretPath: cfg.Settlement.SecretFile,
				Password:            cfg.Settlement.SecretPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: settlement secret: %w", err)
			}
			auth = &crypto.RequestAuth{Key: cfg.Settlement.APIKey, Secret: secret}
		}
		deps.Settler = settle.NewGatewayClient(cfg.Settlement.GatewayURL, cfg.Settlement.APIKey, auth)
	}

	// --- Events and operator alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	alerts := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if deps.SignalBus != nil {
		deps.Notifier = notify.NewBusNotifier(deps.SignalBus, alerts, logger)
	} else {
		deps.Notifier = notify.NewLogNotifier(logger)
	}

	return deps, cleanup, nil
}

// pgPinger adapts the postgres client's pool to the Pinger interface.
type pgPinger struct {
	c *postgres.Client
}

func (p pgPinger) Ping(ctx context.Context) error {
	return p.c.Pool().Ping(ctx)
}
