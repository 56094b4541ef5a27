package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/calebwray/swapflow/internal/blob/s3"
	"github.com/calebwray/swapflow/internal/cache/redis"
	"github.com/calebwray/swapflow/internal/chain"
	"github.com/calebwray/swapflow/internal/config"
	"github.com/calebwray/swapflow/internal/crypto"
	"github.com/calebwray/swapflow/internal/domain"
	"github.com/calebwray/swapflow/internal/hub"
	"github.com/calebwray/swapflow/internal/notify"
	"github.com/calebwray/swapflow/internal/queue/redisq"
	"github.com/calebwray/swapflow/internal/router"
	"github.com/calebwray/swapflow/internal/server"
	"github.com/calebwray/swapflow/internal/server/handler"
	"github.com/calebwray/swapflow/internal/server/ws"
	"github.com/calebwray/swapflow/internal/service"
	"github.com/calebwray/swapflow/internal/store/postgres"
	"github.com/calebwray/swapflow/internal/venue/orca"
	"github.com/calebwray/swapflow/internal/venue/raydium"
	"github.com/calebwray/swapflow/internal/worker"
)

// Dependencies bundles everything the running application needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	History  domain.HistoryStore
	Queue    *redisq.Queue
	Hub      *hub.Hub
	Worker   *worker.Worker
	Chain    *chain.Client
	Notifier *notify.Notifier
	Archiver *s3blob.Archiver // nil unless archiving is enabled
	Server   *server.Server
}

// Wire constructs all concrete dependencies from cfg and returns them with a
// cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Wallet signer ---
	signer, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Postgres.URL,
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.PoolMaxConns,
		MinConns:        cfg.Postgres.PoolMinConns,
		MaxConnIdleTime: time.Duration(cfg.Postgres.IdleTimeoutMs) * time.Millisecond,
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

	historyStore := postgres.NewHistoryStore(pgClient.Pool(), logger)
	deps.History = historyStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:        cfg.Redis.URL,
		Addr:       cfg.Redis.Addr(),
		Username:   cfg.Redis.Username,
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

	deps.Queue = redisq.New(redisClient.Underlying(), redisq.Config{
		Concurrency: cfg.Worker.Concurrency,
	}, logger)

	// --- Status hub ---
	deps.Hub = hub.New(logger)

	// --- Venues and router ---
	var venues []domain.Venue
	if cfg.Venues.Raydium.Enabled {
		venues = append(venues, raydium.New(raydium.Config{
			BaseURL:  cfg.Venues.Raydium.BaseURL,
			FeeBps:   cfg.Venues.Raydium.FeeBps,
			MaxPools: cfg.Venues.Raydium.MaxPools,
		}))
	}
	if cfg.Venues.Orca.Enabled {
		venues = append(venues, orca.New(orca.Config{
			BaseURL:  cfg.Venues.Orca.BaseURL,
			FeeBps:   cfg.Venues.Orca.FeeBps,
			MaxPools: cfg.Venues.Orca.MaxPools,
		}))
	}
	routes := router.New(venues, router.Config{
		Slippage:     cfg.Router.Slippage,
		QuoteTimeout: cfg.Router.QuoteTimeout.Duration,
	}, logger)

	// --- Chain client ---
	deps.Chain = chain.New(chain.Config{
		RPCURL:         cfg.Solana.RPCURL,
		Commitment:     cfg.Solana.Commitment,
		Cluster:        cfg.Solana.Cluster,
		ExplorerBase:   cfg.Solana.ExplorerBase,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout.Duration,
		PollInterval:   cfg.Solana.PollInterval.Duration,
	}, signer, logger)

	// --- Worker ---
	limiter := redis.NewRateLimiter(redisClient)
	deps.Worker = worker.New(
		historyStore,
		deps.Hub,
		routes,
		limiter,
		deps.Chain,
		signer.PublicKey(),
		worker.Config{RateLimit: cfg.Worker.RateLimit},
		logger,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- History archiver (optional) ---
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			historyStore,
			redis.NewLockManager(redisClient),
			s3blob.ArchiverConfig{
				Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
				Interval:  cfg.Archive.Interval.Duration,
				BatchSize: cfg.Archive.BatchSize,
			},
			logger,
		)
	}

	// --- Services and HTTP server ---
	intake := service.NewIntakeService(historyStore, deps.Queue, deps.Hub, logger)
	history := service.NewHistoryService(historyStore)

	deps.Server = server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(logger),
		Orders: handler.NewOrderHandler(intake, history, logger),
		Stream: ws.NewHandler(deps.Hub, logger),
	}, logger)

	return deps, cleanup, nil
}
