package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/pipeline"
	"github.com/alanyoungcy/carbonex/internal/server"
	"github.com/alanyoungcy/carbonex/internal/server/handler"
	"github.com/alanyoungcy/carbonex/internal/server/ws"
	"github.com/alanyoungcy/carbonex/internal/service"
)

// Services are the exchange services built over one set of dependencies.
type Services struct {
	Exchange *service.Exchange
	Registry *service.Registry
	Market   *service.Market
}

// BuildServices constructs the exchange services and bootstraps the registry
// with the authority address.
func BuildServices(ctx context.Context, deps *Dependencies, cfg service.ExchangeConfig, logger *slog.Logger) (*Services, error) {
	publisher := service.NewPublisher(deps.SignalBus, deps.Notifier, logger)

	exchange := service.NewExchange(
		deps.Store, deps.Custody, deps.Payments, deps.LockManager, publisher, cfg, logger,
	)
	if deps.ListingCache != nil {
		exchange.WithListingCache(deps.ListingCache)
	}
	if deps.Certificates != nil {
		exchange.WithCertificates(deps.Certificates)
	}

	registry := service.NewRegistry(deps.Store, deps.Minter, publisher, logger)
	if _, err := registry.Init(ctx, deps.Signer.Address()); err != nil {
		return nil, err
	}

	return &Services{
		Exchange: exchange,
		Registry: registry,
		Market:   service.NewMarket(deps.Store, deps.ListingCache, logger),
	}, nil
}

// ServerMode serves the HTTP API and the WebSocket event feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs the scheduled ledger export only.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// FullMode runs the API server and the archiver side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

// startHTTPServer adds the HTTP server, its WebSocket hub and the graceful
// shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	svcs, err := BuildServices(ctx, deps, service.ExchangeConfig{
		LockTTL:  a.cfg.Exchange.LockTTL.Duration,
		LockWait: a.cfg.Exchange.LockWait.Duration,
	}, a.logger)
	if err != nil {
		return err
	}

	verifier := crypto.NewIntentVerifier(a.cfg.Exchange.ChainID, deps.ReplayGuard, a.cfg.Exchange.IntentMaxTTL.Duration)
	var certs handler.CertificateFetcher
	if deps.Certificates != nil {
		certs = deps.Certificates
	}
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks),
		Exchange: handler.NewExchangeHandler(svcs.Exchange, verifier, a.logger),
		Credits:  handler.NewCreditHandler(svcs.Registry, svcs.Market, verifier, a.logger),
		Market:   handler.NewMarketHandler(svcs.Market, certs, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srv.Addr()),
			slog.String("authority", deps.Signer.Address().Hex()),
			slog.Int64("chain_id", a.cfg.Exchange.ChainID),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}

// startArchiver adds the cron-driven archiver to g.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archiver requires s3 blob storage")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		err := archiver.RunCron(ctx, a.cfg.Archive.Cron)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("archiver: %w", err)
	})
	return nil
}
