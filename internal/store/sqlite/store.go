// Package sqlite provides a single-node SQLite backend for the exchange
// stores.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/store/sqlite/migrations"
)

// Store persists exchange state in SQLite.
type Store struct {
	sqlDB *sql.DB
	nowFn func() time.Time
}

// Open opens a SQLite database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	// One writer at a time; transactions hold the only connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}
	return &Store{
		sqlDB: sqlDB,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithTx runs fn in one transaction, committing only if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(bound{q: tx, now: s.nowFn}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	return nil
}

func (s *Store) direct() bound { return bound{q: s.sqlDB, now: s.nowFn} }

func (s *Store) Listings() domain.ListingStore       { return s.direct().Listings() }
func (s *Store) Retirements() domain.RetirementStore { return s.direct().Retirements() }
func (s *Store) Registry() domain.RegistryStore      { return s.direct().Registry() }
func (s *Store) Credits() domain.CreditStore         { return s.direct().Credits() }
func (s *Store) Sales() domain.SaleStore             { return s.direct().Sales() }
func (s *Store) Audit() domain.AuditStore            { return s.direct().Audit() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type bound struct {
	q   querier
	now func() time.Time
}

func (b bound) Listings() domain.ListingStore       { return &listingStore{b} }
func (b bound) Retirements() domain.RetirementStore { return &retirementStore{b} }
func (b bound) Registry() domain.RegistryStore      { return &registryStore{b} }
func (b bound) Credits() domain.CreditStore         { return &creditStore{b} }
func (b bound) Sales() domain.SaleStore             { return &saleStore{b} }
func (b bound) Audit() domain.AuditStore            { return &auditStore{b} }

// stamp returns t in milliseconds, or now when t is zero.
func (b bound) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = b.now()
	}
	return toMillis(t)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func appendWindow(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		query += " AND " + column + " >= ?"
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND " + column + " < ?"
		args = append(args, toMillis(*opts.Until))
	}
	return query, args
}

// appendPage adds LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET, so -1
// stands in for "no limit".
func appendPage(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit <= 0 && opts.Offset <= 0 {
		return query, args
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	return query, append(args, limit, max(opts.Offset, 0))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

var _ domain.Store = (*Store)(nil)
