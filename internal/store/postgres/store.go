package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Store implements domain.Store on a pgx connection pool.
type Store struct {
	client *Client
}

// NewStore wraps client. Migrations are the caller's responsibility.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// WithTx runs fn inside a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return pgx.BeginFunc(ctx, s.client.pool, func(tx pgx.Tx) error {
		return fn(bound{q: tx})
	})
}

// Close shuts down the pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

func (s *Store) Listings() domain.ListingStore       { return NewListingStore(s.client.pool) }
func (s *Store) Retirements() domain.RetirementStore { return NewRetirementStore(s.client.pool) }
func (s *Store) Registry() domain.RegistryStore      { return NewRegistryStore(s.client.pool) }
func (s *Store) Credits() domain.CreditStore         { return NewCreditStore(s.client.pool) }
func (s *Store) Sales() domain.SaleStore             { return NewSaleStore(s.client.pool) }
func (s *Store) Audit() domain.AuditStore            { return NewAuditStore(s.client.pool) }

type bound struct{ q querier }

func (b bound) Listings() domain.ListingStore       { return NewListingStore(b.q) }
func (b bound) Retirements() domain.RetirementStore { return NewRetirementStore(b.q) }
func (b bound) Registry() domain.RegistryStore      { return NewRegistryStore(b.q) }
func (b bound) Credits() domain.CreditStore         { return NewCreditStore(b.q) }
func (b bound) Sales() domain.SaleStore             { return NewSaleStore(b.q) }
func (b bound) Audit() domain.AuditStore            { return NewAuditStore(b.q) }

// appendWindow adds created_at style bounds on column. Since is inclusive,
// Until exclusive.
func appendWindow(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s < $%d", column, len(args))
	}
	return query, args
}

// appendPage adds LIMIT and OFFSET when set.
func appendPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// nullTime maps the zero time to NULL so column defaults apply.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

var _ domain.Store = (*Store)(nil)
