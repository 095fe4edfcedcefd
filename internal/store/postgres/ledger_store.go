package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// RetirementStore implements domain.RetirementStore using PostgreSQL.
type RetirementStore struct {
	q querier
}

// NewRetirementStore creates a RetirementStore on a pool or transaction.
func NewRetirementStore(q querier) *RetirementStore {
	return &RetirementStore{q: q}
}

// Insert appends a retirement record. A second record for the same asset is
// rejected by the primary key.
func (s *RetirementStore) Insert(ctx context.Context, r domain.RetirementRecord) error {
	const query = `
		INSERT INTO retirements (asset_id, owner, beneficiary, reason, retirement_date)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`

	_, err := s.q.Exec(ctx, query, r.AssetID, r.Owner.Hex(), r.Beneficiary, r.Reason, nullTime(r.RetirementDate))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert retirement %s: %w", r.AssetID, domain.ErrAlreadyRetired)
		}
		return fmt.Errorf("postgres: insert retirement %s: %w", r.AssetID, err)
	}
	return nil
}

// Get returns the retirement record for assetID.
func (s *RetirementStore) Get(ctx context.Context, assetID string) (domain.RetirementRecord, error) {
	const query = `
		SELECT asset_id, owner, beneficiary, reason, retirement_date
		FROM retirements WHERE asset_id = $1`

	r, err := scanRetirement(s.q.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RetirementRecord{}, fmt.Errorf("postgres: get retirement %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.RetirementRecord{}, fmt.Errorf("postgres: get retirement %s: %w", assetID, err)
	}
	return r, nil
}

// List returns retirement records, newest first.
func (s *RetirementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.RetirementRecord, error) {
	query := `SELECT asset_id, owner, beneficiary, reason, retirement_date FROM retirements WHERE 1=1`
	var args []any
	query, args = appendWindow(query, args, "retirement_date", opts)
	query += " ORDER BY retirement_date DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list retirements: %w", err)
	}
	defer rows.Close()

	var out []domain.RetirementRecord
	for rows.Next() {
		r, err := scanRetirement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan retirement: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list retirements rows: %w", err)
	}
	return out, nil
}

// Count returns the number of retired credits.
func (s *RetirementStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM retirements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count retirements: %w", err)
	}
	return n, nil
}

func scanRetirement(row scanner) (domain.RetirementRecord, error) {
	var (
		r     domain.RetirementRecord
		owner string
	)
	if err := row.Scan(&r.AssetID, &owner, &r.Beneficiary, &r.Reason, &r.RetirementDate); err != nil {
		return domain.RetirementRecord{}, err
	}
	r.Owner = common.HexToAddress(owner)
	r.RetirementDate = r.RetirementDate.UTC()
	return r, nil
}

// RegistryStore implements domain.RegistryStore using PostgreSQL. The
// registry is a single row with id = 1.
type RegistryStore struct {
	q querier
}

// NewRegistryStore creates a RegistryStore on a pool or transaction.
func NewRegistryStore(q querier) *RegistryStore {
	return &RegistryStore{q: q}
}

// Init inserts the registry row if missing and returns the stored row.
func (s *RegistryStore) Init(ctx context.Context, authority common.Address) (domain.ExchangeRegistry, error) {
	const insert = `
		INSERT INTO exchange_registry (id, authority) VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.q.Exec(ctx, insert, authority.Hex()); err != nil {
		return domain.ExchangeRegistry{}, fmt.Errorf("postgres: init registry: %w", err)
	}
	return s.Get(ctx)
}

// Get returns the registry row.
func (s *RegistryStore) Get(ctx context.Context) (domain.ExchangeRegistry, error) {
	const query = `SELECT authority, total_assets, created_at FROM exchange_registry WHERE id = 1`

	var (
		reg       domain.ExchangeRegistry
		authority string
		total     int64
	)
	err := s.q.QueryRow(ctx, query).Scan(&authority, &total, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExchangeRegistry{}, fmt.Errorf("postgres: get registry: %w", domain.ErrNotFound)
		}
		return domain.ExchangeRegistry{}, fmt.Errorf("postgres: get registry: %w", err)
	}
	reg.Authority = common.HexToAddress(authority)
	reg.TotalAssets = uint64(total)
	reg.CreatedAt = reg.CreatedAt.UTC()
	return reg, nil
}

// IncrementAssets adds one to total_assets and returns the new value.
func (s *RegistryStore) IncrementAssets(ctx context.Context) (uint64, error) {
	return s.adjust(ctx, "increment", `UPDATE exchange_registry SET total_assets = total_assets + 1 WHERE id = 1 RETURNING total_assets`)
}

// DecrementAssets subtracts one from total_assets, never going below zero.
func (s *RegistryStore) DecrementAssets(ctx context.Context) (uint64, error) {
	return s.adjust(ctx, "decrement", `UPDATE exchange_registry SET total_assets = GREATEST(total_assets - 1, 0) WHERE id = 1 RETURNING total_assets`)
}

func (s *RegistryStore) adjust(ctx context.Context, op, query string) (uint64, error) {
	var total int64
	if err := s.q.QueryRow(ctx, query).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("postgres: %s assets: %w", op, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: %s assets: %w", op, err)
	}
	return uint64(total), nil
}

var (
	_ domain.RetirementStore = (*RetirementStore)(nil)
	_ domain.RegistryStore   = (*RegistryStore)(nil)
)
