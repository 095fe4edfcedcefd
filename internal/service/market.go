package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Market serves read-only views over listings, credits, retirements and
// sales.
type Market struct {
	store  domain.Store
	cache  domain.ListingCache
	logger *slog.Logger
}

// NewMarket creates a Market. cache may be nil.
func NewMarket(store domain.Store, cache domain.ListingCache, logger *slog.Logger) *Market {
	return &Market{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "market")),
	}
}

// GetListing returns the open listing for assetID, reading through the
// listing cache when one is configured.
func (m *Market) GetListing(ctx context.Context, assetID string) (domain.Listing, error) {
	if m.cache != nil {
		l, err := m.cache.Get(ctx, assetID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "listing cache read failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}

	l, err := m.store.Listings().Get(ctx, assetID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, fmt.Errorf("market: listing %s: %w", assetID, domain.ErrListingNotFound)
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: listing %s: %w", assetID, err)
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, l); err != nil {
			m.logger.WarnContext(ctx, "listing cache write failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return l, nil
}

// ListListings returns open listings, newest first.
func (m *Market) ListListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	ls, err := m.store.Listings().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list listings: %w", err)
	}
	return ls, nil
}

// ListBySeller returns seller's open listings, newest first.
func (m *Market) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	ls, err := m.store.Listings().ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list listings by %s: %w", seller.Hex(), err)
	}
	return ls, nil
}

// Stats combines listing, sale, registry and retirement aggregates.
func (m *Market) Stats(ctx context.Context) (domain.MarketStats, error) {
	var stats domain.MarketStats
	ls, err := m.store.Listings().Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("market: listing stats: %w", err)
	}
	ss, err := m.store.Sales().Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("market: sale stats: %w", err)
	}
	retired, err := m.store.Retirements().Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("market: retirement count: %w", err)
	}
	stats.ListingStats = ls
	stats.AveragePrice = ls.MeanPrice()
	stats.SaleStats = ss
	stats.TotalRetired = retired

	reg, err := m.store.Registry().Get(ctx)
	switch {
	case err == nil:
		stats.TotalAssets = reg.TotalAssets
	case errors.Is(err, domain.ErrNotFound):
	default:
		return stats, fmt.Errorf("market: registry: %w", err)
	}
	return stats, nil
}

// GetCredit returns the catalogue entry for assetID.
func (m *Market) GetCredit(ctx context.Context, assetID string) (domain.Credit, error) {
	c, err := m.store.Credits().Get(ctx, assetID)
	if err != nil {
		return domain.Credit{}, fmt.Errorf("market: credit %s: %w", assetID, err)
	}
	return c, nil
}

// ListCredits returns catalogue entries matching filter.
func (m *Market) ListCredits(ctx context.Context, filter domain.CreditFilter, opts domain.ListOpts) ([]domain.Credit, error) {
	cs, err := m.store.Credits().List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list credits: %w", err)
	}
	return cs, nil
}

// GetRetirement returns the retirement record for assetID.
func (m *Market) GetRetirement(ctx context.Context, assetID string) (domain.RetirementRecord, error) {
	r, err := m.store.Retirements().Get(ctx, assetID)
	if err != nil {
		return domain.RetirementRecord{}, fmt.Errorf("market: retirement %s: %w", assetID, err)
	}
	return r, nil
}

// ListRetirements returns retirement records, newest first.
func (m *Market) ListRetirements(ctx context.Context, opts domain.ListOpts) ([]domain.RetirementRecord, error) {
	rs, err := m.store.Retirements().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list retirements: %w", err)
	}
	return rs, nil
}

// ListSales returns completed sales involving party, or all sales when
// party is nil.
func (m *Market) ListSales(ctx context.Context, party *common.Address, opts domain.ListOpts) ([]domain.Sale, error) {
	ss, err := m.store.Sales().List(ctx, party, opts)
	if err != nil {
		return nil, fmt.Errorf("market: list sales: %w", err)
	}
	return ss, nil
}
