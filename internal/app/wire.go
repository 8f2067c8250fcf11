package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Poornadinethyapa/predictionm/internal/blob/s3"
	"github.com/Poornadinethyapa/predictionm/internal/cache/redis"
	"github.com/Poornadinethyapa/predictionm/internal/chain"
	"github.com/Poornadinethyapa/predictionm/internal/config"
	"github.com/Poornadinethyapa/predictionm/internal/crypto"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/notify"
	"github.com/Poornadinethyapa/predictionm/internal/server/handler"
	"github.com/Poornadinethyapa/predictionm/internal/service"
	"github.com/Poornadinethyapa/predictionm/internal/snapshot"
	"github.com/Poornadinethyapa/predictionm/internal/store/postgres"
	"github.com/Poornadinethyapa/predictionm/internal/store/sqlite"
	"github.com/Poornadinethyapa/predictionm/internal/txn"
)

// Dependencies bundles everything the modes need. Optional collaborators are
// nil interfaces when their backend is disabled.
type Dependencies struct {
	Chain     *chain.Client
	Refresher *snapshot.Refresher
	Markets   *service.MarketService
	Orch      *txn.Orchestrator

	// Stores
	Bookmarks domain.BookmarkStore
	TxStore   domain.TxStore
	Audit     domain.AuditStore

	// Caches
	Cache   domain.SnapshotCache
	Bus     domain.SignalBus
	Locks   domain.LockManager
	Limiter domain.RateLimiter

	// Blob storage
	Archiver domain.SnapshotArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks, keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- Wallet (optional; without it the client is read-only) ---
	var signer *crypto.TxSigner
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if keyCfg.Configured() {
		s, err := crypto.SignerFromConfig(keyCfg)
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		signer = s
		logger.Info("wallet loaded", slog.String("address", s.Address().Hex()))
	} else {
		logger.Warn("no wallet configured; transactions are disabled")
	}

	// --- Chain ---
	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		ChainID:         cfg.Chain.ChainID,
		RatePerSec:      cfg.Chain.RPCRatePerSec,
		Burst:           cfg.Chain.RPCBurst,
		PollInterval:    cfg.Chain.ReceiptPoll.Duration,
		GasLimit:        cfg.Chain.GasLimit,
	}, signer, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: chain: %w", err))
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient
	deps.Health["chain"] = func(ctx context.Context) error {
		_, err := chainClient.LatestBlock(ctx)
		return err
	}

	// --- Storage: PostgreSQL when enabled, otherwise the local SQLite file ---
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Bookmarks = postgres.NewBookmarkStore(pool)
		deps.TxStore = postgres.NewTxStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Health
	} else {
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Bookmarks = store
		deps.TxStore = store
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewSnapshotCache(redisClient, cfg.Snapshot.CacheTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 snapshot archive ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.Audit)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Snapshot, market service and transaction orchestrator ---
	deps.Refresher = snapshot.NewRefresher(
		snapshot.NewReader(chainClient, cfg.Snapshot.ReadConcurrency, logger).
			WithMaxMarkets(cfg.Snapshot.MaxMarkets),
		logger,
	)
	deps.Markets = service.NewMarketService(deps.Refresher, deps.Cache, deps.Bookmarks, deps.Bus, deps.Archiver, logger)

	opts := txn.Options{
		Store:       deps.TxStore,
		Bus:         deps.Bus,
		Locks:       deps.Locks,
		LockTTL:     cfg.Server.TxLockTTL.Duration,
		Markets:     deps.Refresher,
		OnConfirmed: deps.Markets.RefreshWallet,
		ExplorerURL: cfg.Chain.ExplorerTxURL,
	}
	if deps.Notifier.Enabled() {
		opts.Notifier = deps.Notifier
	}
	deps.Orch = txn.NewOrchestrator(chainClient, opts, logger)

	return deps, cleanup, nil
}
