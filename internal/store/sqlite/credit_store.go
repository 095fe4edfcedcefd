package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

const creditColumns = `asset_id, owner, project_name, project_id, vintage_year, metric_tons,
	validator, standard, project_type, country, uri, status, minted_at, updated_at`

type creditStore struct{ b bound }

func (s *creditStore) Create(ctx context.Context, c domain.Credit) error {
	status := c.Status
	if status == "" {
		status = domain.CreditStatusActive
	}
	minted := s.b.stamp(c.MintedAt)
	m := c.Metadata
	_, err := s.b.q.ExecContext(ctx, `
		INSERT INTO credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AssetID, c.Owner.Hex(), m.ProjectName, m.ProjectID, int64(m.VintageYear), int64(m.MetricTons),
		m.Validator, m.Standard, m.ProjectType, m.Country, m.URI, string(status), minted, minted,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create credit %s: %w", c.AssetID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: create credit %s: %w", c.AssetID, err)
	}
	return nil
}

func (s *creditStore) Get(ctx context.Context, assetID string) (domain.Credit, error) {
	row := s.b.q.QueryRowContext(ctx, `SELECT `+creditColumns+` FROM credits WHERE asset_id = ?`, assetID)
	c, err := scanCredit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Credit{}, fmt.Errorf("sqlite: get credit %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.Credit{}, fmt.Errorf("sqlite: get credit %s: %w", assetID, err)
	}
	return c, nil
}

func (s *creditStore) UpdateState(ctx context.Context, assetID string, owner common.Address, status domain.CreditStatus) error {
	res, err := s.b.q.ExecContext(ctx,
		`UPDATE credits SET owner = ?, status = ?, updated_at = ? WHERE asset_id = ?`,
		owner.Hex(), string(status), toMillis(s.b.now()), assetID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update credit %s: %w", assetID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlite: update credit %s: %w", assetID, domain.ErrNotFound)
	}
	return nil
}

func (s *creditStore) List(ctx context.Context, filter domain.CreditFilter, opts domain.ListOpts) ([]domain.Credit, error) {
	query := `SELECT ` + creditColumns + ` FROM credits WHERE 1=1`
	var args []any
	if filter.Owner != nil {
		query += " AND owner = ?"
		args = append(args, filter.Owner.Hex())
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query, args = appendWindow(query, args, "minted_at", opts)
	query += " ORDER BY minted_at DESC, asset_id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credits: %w", err)
	}
	defer rows.Close()

	var out []domain.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan credit: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list credits: %w", err)
	}
	return out, nil
}

func scanCredit(row rowScanner) (domain.Credit, error) {
	var (
		c                 domain.Credit
		owner, status     string
		vintage, tons     int64
		minted, updatedAt int64
	)
	m := &c.Metadata
	err := row.Scan(
		&c.AssetID, &owner, &m.ProjectName, &m.ProjectID, &vintage, &tons,
		&m.Validator, &m.Standard, &m.ProjectType, &m.Country, &m.URI, &status,
		&minted, &updatedAt,
	)
	if err != nil {
		return domain.Credit{}, err
	}
	c.Owner = common.HexToAddress(owner)
	m.VintageYear = uint16(vintage)
	m.MetricTons = uint64(tons)
	c.Status = domain.CreditStatus(status)
	c.MintedAt = fromMillis(minted)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

type saleStore struct{ b bound }

func (s *saleStore) Insert(ctx context.Context, sale domain.Sale) error {
	_, err := s.b.q.ExecContext(ctx, `
		INSERT INTO sales (id, asset_id, seller, buyer, price, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.AssetID, sale.Seller.Hex(), sale.Buyer.Hex(), int64(sale.Price), s.b.stamp(sale.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: insert sale %s: %w", sale.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("sqlite: insert sale %s: %w", sale.ID, err)
	}
	return nil
}

func (s *saleStore) List(ctx context.Context, party *common.Address, opts domain.ListOpts) ([]domain.Sale, error) {
	query := `SELECT id, asset_id, seller, buyer, price, completed_at FROM sales WHERE 1=1`
	var args []any
	if party != nil {
		query += " AND (seller = ? OR buyer = ?)"
		args = append(args, party.Hex(), party.Hex())
	}
	query, args = appendWindow(query, args, "completed_at", opts)
	query += " ORDER BY completed_at DESC, id ASC"
	query, args = appendPage(query, args, opts)

	rows, err := s.b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sales: %w", err)
	}
	defer rows.Close()

	var out []domain.Sale
	for rows.Next() {
		var (
			sale          domain.Sale
			seller, buyer string
			price, at     int64
		)
		if err := rows.Scan(&sale.ID, &sale.AssetID, &seller, &buyer, &price, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan sale: %w", err)
		}
		sale.Seller = common.HexToAddress(seller)
		sale.Buyer = common.HexToAddress(buyer)
		sale.Price = uint64(price)
		sale.CompletedAt = fromMillis(at)
		out = append(out, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sales: %w", err)
	}
	return out, nil
}

func (s *saleStore) Stats(ctx context.Context) (domain.SaleStats, error) {
	var count, volume int64
	err := s.b.q.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(price), 0) FROM sales`).Scan(&count, &volume)
	if err != nil {
		return domain.SaleStats{}, fmt.Errorf("sqlite: sale stats: %w", err)
	}
	return domain.SaleStats{TotalSales: count, Volume: uint64(volume)}, nil
}

type auditStore struct{ b bound }

func (s *auditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.b.q.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), toMillis(s.b.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

func (s *auditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	query, args = appendWindow(query, args, "created_at", opts)
	query += " ORDER BY id DESC"
	query, args = appendPage(query, args, opts)

	rows, err := s.b.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			detail    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	return entries, nil
}
