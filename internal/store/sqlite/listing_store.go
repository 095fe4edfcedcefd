package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

type listingStore struct{ b bound }

func (s *listingStore) Create(ctx context.Context, l domain.Listing) error {
	_, err := s.b.q.ExecContext(ctx,
		`INSERT INTO listings (asset_id, owner, price, created_at) VALUES (?, ?, ?, ?)`,
		l.AssetID, l.Owner.Hex(), int64(l.Price), s.b.stamp(l.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create listing %s: %w", l.AssetID, domain.ErrListingExists)
		}
		return fmt.Errorf("sqlite: create listing %s: %w", l.AssetID, err)
	}
	return nil
}

func (s *listingStore) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	row := s.b.q.QueryRowContext(ctx,
		`SELECT asset_id, owner, price, created_at FROM listings WHERE asset_id = ?`, assetID)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Listing{}, fmt.Errorf("sqlite: get listing %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.Listing{}, fmt.Errorf("sqlite: get listing %s: %w", assetID, err)
	}
	return l, nil
}

func (s *listingStore) Delete(ctx context.Context, assetID string) error {
	res, err := s.b.q.ExecContext(ctx, `DELETE FROM listings WHERE asset_id = ?`, assetID)
	if err != nil {
		return fmt.Errorf("sqlite: delete listing %s: %w", assetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete listing %s: %w", assetID, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: delete listing %s: %w", assetID, domain.ErrNotFound)
	}
	return nil
}

func (s *listingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx, `SELECT asset_id, owner, price, created_at FROM listings WHERE 1=1`, nil, opts)
}

func (s *listingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx,
		`SELECT asset_id, owner, price, created_at FROM listings WHERE owner = ?`,
		[]any{seller.Hex()}, opts)
}

func (s *listingStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args = appendWindow(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list listings: %w", err)
	}
	return out, nil
}

func (s *listingStore) Stats(ctx context.Context) (domain.ListingStats, error) {
	var total, sellers, minPrice, maxPrice, value int64
	err := s.b.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT owner),
		       COALESCE(MIN(price), 0), COALESCE(MAX(price), 0), COALESCE(SUM(price), 0)
		  FROM listings`,
	).Scan(&total, &sellers, &minPrice, &maxPrice, &value)
	if err != nil {
		return domain.ListingStats{}, fmt.Errorf("sqlite: listing stats: %w", err)
	}
	return domain.ListingStats{
		TotalListings: total,
		ActiveSellers: sellers,
		MinPrice:      uint64(minPrice),
		MaxPrice:      uint64(maxPrice),
		ListedValue:   uint64(value),
	}, nil
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l         domain.Listing
		owner     string
		price     int64
		createdAt int64
	)
	if err := row.Scan(&l.AssetID, &owner, &price, &createdAt); err != nil {
		return domain.Listing{}, err
	}
	l.Owner = common.HexToAddress(owner)
	l.Price = uint64(price)
	l.CreatedAt = fromMillis(createdAt)
	return l, nil
}
