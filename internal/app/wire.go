package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfold/whalecopy/internal/blob/s3"
	"github.com/quantfold/whalecopy/internal/cache/redis"
	"github.com/quantfold/whalecopy/internal/config"
	"github.com/quantfold/whalecopy/internal/crypto"
	"github.com/quantfold/whalecopy/internal/domain"
	"github.com/quantfold/whalecopy/internal/notify"
	"github.com/quantfold/whalecopy/internal/platform/exchange"
	"github.com/quantfold/whalecopy/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields gated by mode (stores, blob storage, the exchange client)
// are nil when the mode does not use them.
type Dependencies struct {
	// Stores
	Whales        domain.WhaleStore
	Executions    domain.ExecutionStore
	Outcomes      domain.OutcomeStore
	BreakerEvents domain.BreakerEventStore
	Audit         domain.AuditStore

	// Caches
	Prices      domain.PriceCache
	Books       domain.BookCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Exchange access (live modes only)
	Signer   *crypto.Signer
	Exchange *exchange.Client

	// Notifications
	Notifier *notify.Notifier
	Alerts   *notify.Alerts
}

// needsPostgres returns true for modes that persist executions and whale
// profiles.
func needsPostgres(mode string) bool {
	switch mode {
	case "copy", "paper", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that run the cold archive.
func needsS3(mode string) bool {
	switch mode {
	case "copy", "full":
		return true
	default:
		return false
	}
}

// needsWallet returns true for modes that sign live orders.
func needsWallet(mode string) bool {
	switch mode {
	case "copy", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
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
		deps.Whales = postgres.NewWhaleStore(pool)
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Outcomes = postgres.NewOutcomeStore(pool)
		deps.BreakerEvents = postgres.NewBreakerEventStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

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

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Books = redis.NewBookCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	if cfg.Pipeline.DistributedLocks {
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 cold archive ---
	if needsS3(cfg.Mode) {
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
		deps.BlobReader = s3blob.NewReader(s3Client)
		if deps.Executions != nil && deps.BreakerEvents != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlobReader,
				deps.Executions,
				deps.BreakerEvents,
				deps.Audit,
			)
		}
	}

	// --- Wallet, signer, exchange client ---
	if needsWallet(cfg.Mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, cfg.Exchange.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
		deps.Exchange = exchange.NewClient(cfg.Exchange.ClobHost, signer, cfg.Exchange.SignatureType)

		logger.InfoContext(ctx, "wallet loaded",
			slog.String("address", signer.Address().Hex()),
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
	deps.Alerts = notify.NewAlerts(deps.Notifier)

	return deps, cleanup, nil
}
