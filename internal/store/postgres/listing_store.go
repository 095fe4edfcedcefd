package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	q querier
}

// NewListingStore creates a ListingStore on a pool or transaction.
func NewListingStore(q querier) *ListingStore {
	return &ListingStore{q: q}
}

// Create inserts a listing. The asset_id primary key enforces one listing
// per asset.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (asset_id, owner, price, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))`

	_, err := s.q.Exec(ctx, query, l.AssetID, l.Owner.Hex(), int64(l.Price), nullTime(l.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create listing %s: %w", l.AssetID, domain.ErrListingExists)
		}
		return fmt.Errorf("postgres: create listing %s: %w", l.AssetID, err)
	}
	return nil
}

// Get returns the listing for assetID.
func (s *ListingStore) Get(ctx context.Context, assetID string) (domain.Listing, error) {
	const query = `SELECT asset_id, owner, price, created_at FROM listings WHERE asset_id = $1`

	l, err := scanListing(s.q.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", assetID, err)
	}
	return l, nil
}

// Delete removes the listing for assetID.
func (s *ListingStore) Delete(ctx context.Context, assetID string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM listings WHERE asset_id = $1`, assetID)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", assetID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete listing %s: %w", assetID, domain.ErrNotFound)
	}
	return nil
}

// List returns open listings, newest first.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx, `SELECT asset_id, owner, price, created_at FROM listings WHERE 1=1`, nil, opts)
}

// ListBySeller returns the open listings owned by seller.
func (s *ListingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	return s.list(ctx,
		`SELECT asset_id, owner, price, created_at FROM listings WHERE owner = $1`,
		[]any{seller.Hex()}, opts)
}

func (s *ListingStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args = appendWindow(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return out, nil
}

// Stats aggregates the open listings.
func (s *ListingStore) Stats(ctx context.Context) (domain.ListingStats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(DISTINCT owner),
		       COALESCE(MIN(price), 0),
		       COALESCE(MAX(price), 0),
		       COALESCE(SUM(price), 0)::BIGINT
		FROM listings`

	var total, sellers, minPrice, maxPrice, value int64
	if err := s.q.QueryRow(ctx, query).Scan(&total, &sellers, &minPrice, &maxPrice, &value); err != nil {
		return domain.ListingStats{}, fmt.Errorf("postgres: listing stats: %w", err)
	}
	return domain.ListingStats{
		TotalListings: total,
		ActiveSellers: sellers,
		MinPrice:      uint64(minPrice),
		MaxPrice:      uint64(maxPrice),
		ListedValue:   uint64(value),
	}, nil
}

func scanListing(row scanner) (domain.Listing, error) {
	var (
		l     domain.Listing
		owner string
		price int64
	)
	if err := row.Scan(&l.AssetID, &owner, &price, &l.CreatedAt); err != nil {
		return domain.Listing{}, err
	}
	l.Owner = common.HexToAddress(owner)
	l.Price = uint64(price)
	l.CreatedAt = l.CreatedAt.UTC()
	return l, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
