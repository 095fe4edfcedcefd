package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

const creditColumns = `asset_id, owner, project_name, project_id, vintage_year, metric_tons,
	validator, standard, project_type, country, uri, status, minted_at, updated_at`

// CreditStore implements domain.CreditStore using PostgreSQL.
type CreditStore struct {
	q querier
}

// NewCreditStore creates a CreditStore on a pool or transaction.
func NewCreditStore(q querier) *CreditStore {
	return &CreditStore{q: q}
}

// Create inserts a newly minted credit.
func (s *CreditStore) Create(ctx context.Context, c domain.Credit) error {
	status := c.Status
	if status == "" {
		status = domain.CreditStatusActive
	}
	const query = `
		INSERT INTO credits (
			asset_id, owner, project_name, project_id, vintage_year, metric_tons,
			validator, standard, project_type, country, uri, status,
			minted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			COALESCE($13, NOW()), COALESCE($13, NOW())
		)`

	m := c.Metadata
	_, err := s.q.Exec(ctx, query,
		c.AssetID, c.Owner.Hex(), m.ProjectName, m.ProjectID, int32(m.VintageYear), int64(m.MetricTons),
		m.Validator, m.Standard, m.ProjectType, m.Country, m.URI, string(status),
		nullTime(c.MintedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create credit %s: %w", c.AssetID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create credit %s: %w", c.AssetID, err)
	}
	return nil
}

// Get returns the credit for assetID.
func (s *CreditStore) Get(ctx context.Context, assetID string) (domain.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE asset_id = $1`
	c, err := scanCredit(s.q.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credit{}, fmt.Errorf("postgres: get credit %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.Credit{}, fmt.Errorf("postgres: get credit %s: %w", assetID, err)
	}
	return c, nil
}

// UpdateState records a change of owner or lifecycle status.
func (s *CreditStore) UpdateState(ctx context.Context, assetID string, owner common.Address, status domain.CreditStatus) error {
	const query = `UPDATE credits SET owner = $1, status = $2, updated_at = NOW() WHERE asset_id = $3`
	tag, err := s.q.Exec(ctx, query, owner.Hex(), string(status), assetID)
	if err != nil {
		return fmt.Errorf("postgres: update credit %s: %w", assetID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update credit %s: %w", assetID, domain.ErrNotFound)
	}
	return nil
}

// List returns credits matching filter, newest first.
func (s *CreditStore) List(ctx context.Context, filter domain.CreditFilter, opts domain.ListOpts) ([]domain.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE 1=1`
	var args []any
	if filter.Owner != nil {
		args = append(args, filter.Owner.Hex())
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query, args = appendWindow(query, args, "minted_at", opts)
	query += " ORDER BY minted_at DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list credits: %w", err)
	}
	defer rows.Close()

	var out []domain.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan credit: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list credits rows: %w", err)
	}
	return out, nil
}

func scanCredit(row scanner) (domain.Credit, error) {
	var (
		c       domain.Credit
		owner   string
		vintage int32
		tons    int64
		status  string
	)
	m := &c.Metadata
	err := row.Scan(
		&c.AssetID, &owner, &m.ProjectName, &m.ProjectID, &vintage, &tons,
		&m.Validator, &m.Standard, &m.ProjectType, &m.Country, &m.URI, &status,
		&c.MintedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Credit{}, err
	}
	c.Owner = common.HexToAddress(owner)
	m.VintageYear = uint16(vintage)
	m.MetricTons = uint64(tons)
	c.Status = domain.CreditStatus(status)
	c.MintedAt = c.MintedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// SaleStore implements domain.SaleStore using PostgreSQL.
type SaleStore struct {
	q querier
}

// NewSaleStore creates a SaleStore on a pool or transaction.
func NewSaleStore(q querier) *SaleStore {
	return &SaleStore{q: q}
}

// Insert records a completed sale.
func (s *SaleStore) Insert(ctx context.Context, sale domain.Sale) error {
	const query = `
		INSERT INTO sales (id, asset_id, seller, buyer, price, completed_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`
	_, err := s.q.Exec(ctx, query,
		sale.ID, sale.AssetID, sale.Seller.Hex(), sale.Buyer.Hex(), int64(sale.Price), nullTime(sale.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert sale %s: %w", sale.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert sale %s: %w", sale.ID, err)
	}
	return nil
}

// List returns sales involving party, or all sales when party is nil.
func (s *SaleStore) List(ctx context.Context, party *common.Address, opts domain.ListOpts) ([]domain.Sale, error) {
	query := `SELECT id, asset_id, seller, buyer, price, completed_at FROM sales WHERE 1=1`
	var args []any
	if party != nil {
		args = append(args, party.Hex())
		query += fmt.Sprintf(" AND (seller = $%d OR buyer = $%d)", len(args), len(args))
	}
	query, args = appendWindow(query, args, "completed_at", opts)
	query += " ORDER BY completed_at DESC, id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales: %w", err)
	}
	defer rows.Close()

	var out []domain.Sale
	for rows.Next() {
		var (
			sale          domain.Sale
			seller, buyer string
			price         int64
		)
		if err := rows.Scan(&sale.ID, &sale.AssetID, &seller, &buyer, &price, &sale.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sale: %w", err)
		}
		sale.Seller = common.HexToAddress(seller)
		sale.Buyer = common.HexToAddress(buyer)
		sale.Price = uint64(price)
		sale.CompletedAt = sale.CompletedAt.UTC()
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list sales rows: %w", err)
	}
	return out, nil
}

// Stats returns the number and total value of completed sales.
func (s *SaleStore) Stats(ctx context.Context) (domain.SaleStats, error) {
	var count, volume int64
	err := s.q.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(price), 0)::BIGINT FROM sales`).Scan(&count, &volume)
	if err != nil {
		return domain.SaleStats{}, fmt.Errorf("postgres: sale stats: %w", err)
	}
	return domain.SaleStats{TotalSales: count, Volume: uint64(volume)}, nil
}

var (
	_ domain.CreditStore = (*CreditStore)(nil)
	_ domain.SaleStore   = (*SaleStore)(nil)
)
