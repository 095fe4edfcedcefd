package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

type retirementStore struct{ b bound }

func (s *retirementStore) Insert(ctx context.Context, r domain.RetirementRecord) error {
	_, err := s.b.q.ExecContext(ctx, `
		INSERT INTO retirements (asset_id, owner, beneficiary, reason, retirement_date)
		VALUES (?, ?, ?, ?, ?)`,
		r.AssetID, r.Owner.Hex(), r.Beneficiary, r.Reason, s.b.stamp(r.RetirementDate),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: insert retirement %s: %w", r.AssetID, domain.ErrAlreadyRetired)
		}
		return fmt.Errorf("sqlite: insert retirement %s: %w", r.AssetID, err)
	}
	return nil
}

func (s *retirementStore) Get(ctx context.Context, assetID string) (domain.RetirementRecord, error) {
	row := s.b.q.QueryRowContext(ctx, `
		SELECT asset_id, owner, beneficiary, reason, retirement_date
		  FROM retirements WHERE asset_id = ?`, assetID)
	r, err := scanRetirement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RetirementRecord{}, fmt.Errorf("sqlite: get retirement %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.RetirementRecord{}, fmt.Errorf("sqlite: get retirement %s: %w", assetID, err)
	}
	return r, nil
}

func (s *retirementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.RetirementRecord, error) {
	query := `SELECT asset_id, owner, beneficiary, reason, retirement_date FROM retirements WHERE 1=1`
	var args []any
	query, args = appendWindow(query, args, "retirement_date", opts)
	query += " ORDER BY retirement_date DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list retirements: %w", err)
	}
	defer rows.Close()

	var out []domain.RetirementRecord
	for rows.Next() {
		r, err := scanRetirement(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan retirement: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list retirements: %w", err)
	}
	return out, nil
}

func (s *retirementStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.b.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM retirements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count retirements: %w", err)
	}
	return n, nil
}

func scanRetirement(row rowScanner) (domain.RetirementRecord, error) {
	var (
		r     domain.RetirementRecord
		owner string
		date  int64
	)
	if err := row.Scan(&r.AssetID, &owner, &r.Beneficiary, &r.Reason, &date); err != nil {
		return domain.RetirementRecord{}, err
	}
	r.Owner = common.HexToAddress(owner)
	r.RetirementDate = fromMillis(date)
	return r, nil
}

type registryStore struct{ b bound }

func (s *registryStore) Init(ctx context.Context, authority common.Address) (domain.ExchangeRegistry, error) {
	_, err := s.b.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO exchange_registry (id, authority, total_assets, created_at) VALUES (1, ?, 0, ?)`,
		authority.Hex(), toMillis(s.b.now()),
	)
	if err != nil {
		return domain.ExchangeRegistry{}, fmt.Errorf("sqlite: init registry: %w", err)
	}
	return s.Get(ctx)
}

func (s *registryStore) Get(ctx context.Context) (domain.ExchangeRegistry, error) {
	var (
		authority string
		total     int64
		createdAt int64
	)
	err := s.b.q.QueryRowContext(ctx,
		`SELECT authority, total_assets, created_at FROM exchange_registry WHERE id = 1`,
	).Scan(&authority, &total, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExchangeRegistry{}, fmt.Errorf("sqlite: get registry: %w", domain.ErrNotFound)
		}
		return domain.ExchangeRegistry{}, fmt.Errorf("sqlite: get registry: %w", err)
	}
	return domain.ExchangeRegistry{
		Authority:   common.HexToAddress(authority),
		TotalAssets: uint64(total),
		CreatedAt:   fromMillis(createdAt),
	}, nil
}

func (s *registryStore) IncrementAssets(ctx context.Context) (uint64, error) {
	return s.adjust(ctx, "increment",
		`UPDATE exchange_registry SET total_assets = total_assets + 1 WHERE id = 1 RETURNING total_assets`)
}

func (s *registryStore) DecrementAssets(ctx context.Context) (uint64, error) {
	return s.adjust(ctx, "decrement",
		`UPDATE exchange_registry SET total_assets = MAX(total_assets - 1, 0) WHERE id = 1 RETURNING total_assets`)
}

func (s *registryStore) adjust(ctx context.Context, op, query string) (uint64, error) {
	var total int64
	if err := s.b.q.QueryRowContext(ctx, query).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("sqlite: %s assets: %w", op, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("sqlite: %s assets: %w", op, err)
	}
	return uint64(total), nil
}
