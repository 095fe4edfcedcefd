package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/carbonex/internal/blob/s3"
	memcache "github.com/alanyoungcy/carbonex/internal/cache/memory"
	"github.com/alanyoungcy/carbonex/internal/cache/redis"
	"github.com/alanyoungcy/carbonex/internal/certificate"
	"github.com/alanyoungcy/carbonex/internal/config"
	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/ledger"
	"github.com/alanyoungcy/carbonex/internal/notify"
	"github.com/alanyoungcy/carbonex/internal/platform/custody"
	"github.com/alanyoungcy/carbonex/internal/platform/payment"
	"github.com/alanyoungcy/carbonex/internal/server/handler"
	"github.com/alanyoungcy/carbonex/internal/service"
	"github.com/alanyoungcy/carbonex/internal/store/memory"
	"github.com/alanyoungcy/carbonex/internal/store/postgres"
	"github.com/alanyoungcy/carbonex/internal/store/sqlite"
	"github.com/alanyoungcy/carbonex/internal/telemetry"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence
	Store domain.Store

	// Coordination
	LockManager  domain.LockManager
	ReplayGuard  domain.ReplayGuard
	RateLimiter  domain.RateLimiter
	SignalBus    domain.SignalBus
	ListingCache domain.ListingCache // nil without redis

	// Collaborators
	Custody  domain.CustodyAdapter
	Payments domain.PaymentAdapter
	Minter   service.Minter // nil when custody is external

	// Blob storage, nil unless s3.enabled
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Signer       *crypto.Signer
	Certificates *certificate.Issuer // nil unless enabled and s3 is wired
	Notifier     *notify.Notifier

	// HealthChecks probe the external backends for GET /api/health.
	HealthChecks map[string]handler.Check
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: map[string]handler.Check{}}

	// --- Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: telemetry: %w", err))
	}
	closers = append(closers, func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	})

	// --- Authority key ---
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Exchange.PrivateKey,
		EncryptedKeyPath: cfg.Exchange.EncryptedKeyPath,
		KeyPassword:      cfg.Exchange.KeyPassword,
	}, cfg.Exchange.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: authority key: %w", err))
	}
	deps.Signer = signer

	// --- Store ---
	switch cfg.Storage.Backend {
	case "postgres":
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
		deps.Store = postgres.NewStore(pgClient)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error {
			return pgClient.Pool().Ping(ctx)
		}
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st
	default:
		deps.Store = memory.New()
	}

	// --- Locks, replay guard, rate limiter, event bus ---
	if cfg.Storage.Cache == "redis" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
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

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = cfg.Redis.StreamMaxLen
		}
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, streamMaxLen)
		deps.ListingCache = redis.NewListingCache(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.LockManager = memcache.NewLockManager()
		deps.ReplayGuard = memcache.NewReplayGuard()
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.SignalBus = memcache.NewBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- Custody and payment collaborators ---
	if cfg.Custody.External() {
		deps.Custody = custody.NewClient(cfg.Custody.BaseURL,
			&crypto.HMACAuth{Key: cfg.Custody.APIKey, Secret: cfg.Custody.APISecret},
			cfg.Custody.Timeout.Duration)
	} else {
		local := ledger.NewCustody()
		deps.Custody = local
		deps.Minter = local
		logger.WarnContext(ctx, "custody: using in-process ledger; balances are lost on restart")
	}
	if cfg.Payment.External() {
		deps.Payments = payment.NewClient(cfg.Payment.BaseURL,
			&crypto.HMACAuth{Key: cfg.Payment.APIKey, Secret: cfg.Payment.APISecret},
			cfg.Payment.Timeout.Duration)
	} else {
		deps.Payments = ledger.NewPayments()
		logger.WarnContext(ctx, "payment: using in-process ledger; balances are lost on restart")
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Store)
		deps.HealthChecks["s3"] = s3Client.Health
		if cfg.Exchange.Certificates {
			deps.Certificates = certificate.NewIssuer(signer, deps.BlobWriter, deps.BlobReader)
		}
	}
	deps.HealthChecks["store"] = func(ctx context.Context) error {
		_, err := deps.Store.Registry().Get(ctx)
		return err
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

	return deps, cleanup, nil
}
