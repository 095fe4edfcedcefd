package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Minter places a newly minted unit in custody. The in-process custody
// ledger implements it; external custody services mint on their own.
type Minter interface {
	Mint(ctx context.Context, assetID string, holder common.Address) error
}

// Registry maintains the exchange singleton and the credit catalogue.
type Registry struct {
	store  domain.Store
	minter Minter
	events domain.EventSink
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewRegistry creates a Registry. minter may be nil.
func NewRegistry(store domain.Store, minter Minter, events domain.EventSink, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		minter: minter,
		events: events,
		logger: logger.With(slog.String("component", "registry")),
		nowFn:  time.Now,
	}
}

// Init creates the registry singleton if needed. Calling it again returns
// the existing registry unchanged.
func (r *Registry) Init(ctx context.Context, authority common.Address) (domain.ExchangeRegistry, error) {
	reg, err := r.store.Registry().Init(ctx, authority)
	if err != nil {
		return domain.ExchangeRegistry{}, fmt.Errorf("registry: init: %w", err)
	}
	r.logger.InfoContext(ctx, "registry ready",
		slog.String("authority", reg.Authority.Hex()),
		slog.Uint64("total_assets", reg.TotalAssets),
	)
	return reg, nil
}

// Get returns the registry singleton.
func (r *Registry) Get(ctx context.Context) (domain.ExchangeRegistry, error) {
	reg, err := r.store.Registry().Get(ctx)
	if err != nil {
		return domain.ExchangeRegistry{}, fmt.Errorf("registry: get: %w", err)
	}
	return reg, nil
}

// RecordMint catalogues a newly minted credit and counts it.
func (r *Registry) RecordMint(ctx context.Context, assetID string, owner common.Address, meta domain.CreditMetadata) (domain.Credit, error) {
	if err := domain.ValidateAssetID(assetID); err != nil {
		return domain.Credit{}, fmt.Errorf("registry: mint: %w", err)
	}
	if strings.TrimSpace(meta.ProjectName) == "" {
		return domain.Credit{}, fmt.Errorf("registry: mint %s: %w: project name required", assetID, domain.ErrInvalidMint)
	}

	now := r.nowFn().UTC()
	credit := domain.Credit{
		AssetID:   assetID,
		Owner:     owner,
		Metadata:  meta,
		Status:    domain.CreditStatusActive,
		MintedAt:  now,
		UpdatedAt: now,
	}
	var total uint64
	// The minted unit must end up catalogued, so the transaction ignores
	// cancellation once Mint has been issued.
	txCtx := context.WithoutCancel(ctx)
	err := r.store.WithTx(txCtx, func(tx domain.Tx) error {
		if err := tx.Credits().Create(txCtx, credit); err != nil {
			return err
		}
		var err error
		if total, err = recordMint(txCtx, tx); err != nil {
			return err
		}
		if err := tx.Audit().Log(txCtx, "credit.minted", map[string]any{
			"asset_id":     assetID,
			"owner":        owner.Hex(),
			"project_id":   meta.ProjectID,
			"vintage_year": meta.VintageYear,
			"metric_tons":  meta.MetricTons,
		}); err != nil {
			return err
		}
		if r.minter != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			return r.minter.Mint(txCtx, assetID, owner)
		}
		return nil
	})
	if err != nil {
		return domain.Credit{}, fmt.Errorf("registry: mint %s: %w", assetID, err)
	}

	r.logger.InfoContext(ctx, "credit minted",
		slog.String("asset_id", assetID),
		slog.String("owner", owner.Hex()),
		slog.Uint64("total_assets", total),
	)
	if r.events != nil {
		ev := domain.CreditMinted{
			AssetID:     assetID,
			Owner:       owner,
			ProjectName: meta.ProjectName,
			ProjectID:   meta.ProjectID,
			VintageYear: meta.VintageYear,
			MetricTons:  meta.MetricTons,
			Timestamp:   now,
		}
		if err := r.events.Emit(txCtx, ev); err != nil {
			r.logger.ErrorContext(ctx, "event emit failed",
				slog.String("type", string(ev.Type())),
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return credit, nil
}

// recordMint counts one more live asset.
func recordMint(ctx context.Context, tx domain.Tx) (uint64, error) {
	total, err := tx.Registry().IncrementAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("record mint: %w", err)
	}
	return total, nil
}

// recordRetire counts one less live asset, never going below zero.
func recordRetire(ctx context.Context, tx domain.Tx) (uint64, error) {
	total, err := tx.Registry().DecrementAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("record retire: %w", err)
	}
	return total, nil
}
