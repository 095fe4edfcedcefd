package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type listingStore struct{ h handle }

func (s *listingStore) Create(_ context.Context, l domain.Listing) error {
	return s.h.write(func(st *state) error {
		if _, ok := st.listings[l.AssetID]; ok {
			return fmt.Errorf("memory: create listing %s: %w", l.AssetID, domain.ErrListingExists)
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = s.h.now()
		}
		st.listings[l.AssetID] = l
		return nil
	})
}

func (s *listingStore) Get(_ context.Context, assetID string) (domain.Listing, error) {
	var out domain.Listing
	err := s.h.read(func(st *state) error {
		l, ok := st.listings[assetID]
		if !ok {
			return fmt.Errorf("memory: get listing %s: %w", assetID, domain.ErrNotFound)
		}
		out = l
		return nil
	})
	return out, err
}

func (s *listingStore) Delete(_ context.Context, assetID string) error {
	return s.h.write(func(st *state) error {
		if _, ok := st.listings[assetID]; !ok {
			return fmt.Errorf("memory: delete listing %s: %w", assetID, domain.ErrNotFound)
		}
		delete(st.listings, assetID)
		return nil
	})
}

func (s *listingStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.filter(opts, func(domain.Listing) bool { return true })
}

func (s *listingStore) ListBySeller(_ context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.filter(opts, func(l domain.Listing) bool { return l.Owner == seller })
}

func (s *listingStore) filter(opts domain.ListOpts, keep func(domain.Listing) bool) ([]domain.Listing, error) {
	var out []domain.Listing
	err := s.h.read(func(st *state) error {
		for _, l := range st.listings {
			if keep(l) && inWindow(l.CreatedAt, opts) {
				out = append(out, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out, func(l domain.Listing) time.Time { return l.CreatedAt }, func(l domain.Listing) string { return l.AssetID })
	return page(out, opts), nil
}

func (s *listingStore) Stats(_ context.Context) (domain.ListingStats, error) {
	var stats domain.ListingStats
	err := s.h.read(func(st *state) error {
		sellers := make(map[common.Address]struct{})
		for _, l := range st.listings {
			if stats.TotalListings == 0 || l.Price < stats.MinPrice {
				stats.MinPrice = l.Price
			}
			if l.Price > stats.MaxPrice {
				stats.MaxPrice = l.Price
			}
			stats.TotalListings++
			stats.ListedValue += l.Price
			sellers[l.Owner] = struct{}{}
		}
		stats.ActiveSellers = int64(len(sellers))
		return nil
	})
	return stats, err
}
