package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/mauricedesaxe/betme/internal/blob/s3"
	"github.com/mauricedesaxe/betme/internal/cache/redis"
	"github.com/mauricedesaxe/betme/internal/config"
	"github.com/mauricedesaxe/betme/internal/crypto"
	"github.com/mauricedesaxe/betme/internal/domain"
	"github.com/mauricedesaxe/betme/internal/mediator"
	"github.com/mauricedesaxe/betme/internal/notify"
	"github.com/mauricedesaxe/betme/internal/oracle"
	"github.com/mauricedesaxe/betme/internal/service"
	"github.com/mauricedesaxe/betme/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	BetStore      domain.BetStore
	BetEventStore domain.BetEventStore
	AuditStore    domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Oracle
	PriceSource domain.PriceSource
	Mediator    *mediator.OptionMediator

	// Core service
	BetService *service.BetService

	// Operator identity. Zero when no operator key is configured.
	OperatorAddress common.Address

	// Notifications
	Notifier *notify.Notifier

	// Connectivity checks for the health endpoint. S3Client is nil unless
	// archival is enabled.
	PostgresClient *postgres.Client
	RedisClient    *redis.Client
	S3Client       *s3blob.Client
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.PostgresClient = pgClient
	deps.BetStore = postgres.NewBetStore(pool)
	deps.BetEventStore = postgres.NewBetEventStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	deps.RedisClient = redisClient
	deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Oracle.QuoteTTL.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, 0)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
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

		deps.S3Client = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.BetStore,
			deps.BetEventStore,
			deps.AuditStore,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	// --- Oracle price source ---
	if cfg.Oracle.RPCURL != "" {
		chainlink, err := oracle.NewChainlinkClient(ctx, cfg.Oracle.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle rpc: %w", err)
		}
		closers = append(closers, chainlink.Close)

		maxAge := cfg.Oracle.CacheMaxAge.Duration
		if maxAge <= 0 {
			maxAge = 30 * time.Second
		}
		deps.PriceSource = oracle.NewCachedSource(chainlink, deps.QuoteCache, deps.SignalBus, maxAge, logger)
		deps.Mediator = mediator.NewOptionMediator(deps.PriceSource, nil)
	}

	// --- Operator identity ---
	if cfg.Operator.PrivateKey != "" || cfg.Operator.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		addr, err := crypto.OperatorAddress(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator address: %w", err)
		}
		deps.OperatorAddress = addr
		logger.InfoContext(ctx, "operator identity loaded",
			slog.String("address", addr.Hex()),
		)
	}

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core service ---
	deps.BetService = service.NewBetService(
		deps.BetStore,
		deps.BetEventStore,
		deps.AuditStore,
		deps.Mediator,
		deps.SignalBus,
		deps.Notifier,
		logger,
		nil,
	)

	mode := strings.ToLower(cfg.Mode)
	logger.InfoContext(ctx, "dependencies wired",
		slog.String("mode", mode),
		slog.Bool("oracle", deps.Mediator != nil),
		slog.Bool("archiver", deps.Archiver != nil),
	)

	return deps, cleanup, nil
}
