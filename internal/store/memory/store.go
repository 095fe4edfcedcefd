// Package memory provides an in-process transactional store. Transactions
// run against a private copy of the state which replaces the live state on
// commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

type state struct {
	registry    *domain.ExchangeRegistry
	listings    map[string]domain.Listing
	retirements map[string]domain.RetirementRecord
	credits     map[string]domain.Credit
	sales       []domain.Sale
	audit       []domain.AuditEntry
	nextAuditID int64
}

func newState() *state {
	return &state{
		listings:    map[string]domain.Listing{},
		retirements: map[string]domain.RetirementRecord{},
		credits:     map[string]domain.Credit{},
	}
}

func (s *state) clone() *state {
	out := &state{
		listings:    make(map[string]domain.Listing, len(s.listings)),
		retirements: make(map[string]domain.RetirementRecord, len(s.retirements)),
		credits:     make(map[string]domain.Credit, len(s.credits)),
		sales:       append([]domain.Sale(nil), s.sales...),
		audit:       append([]domain.AuditEntry(nil), s.audit...),
		nextAuditID: s.nextAuditID,
	}
	if s.registry != nil {
		reg := *s.registry
		out.registry = &reg
	}
	for k, v := range s.listings {
		out.listings[k] = v
	}
	for k, v := range s.retirements {
		out.retirements[k] = v
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	return out
}

// Store is an in-memory implementation of domain.Store.
type Store struct {
	mu    sync.RWMutex
	state *state
	nowFn func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx runs fn against a snapshot and publishes it if fn succeeds.
// Transactions are serialized.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := handle{st: s.state.clone(), now: s.nowFn}
	if err := fn(stores{h}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = h.st
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) direct() stores {
	return stores{handle{store: s, now: s.nowFn}}
}

func (s *Store) Listings() domain.ListingStore       { return s.direct().Listings() }
func (s *Store) Retirements() domain.RetirementStore { return s.direct().Retirements() }
func (s *Store) Registry() domain.RegistryStore      { return s.direct().Registry() }
func (s *Store) Credits() domain.CreditStore         { return s.direct().Credits() }
func (s *Store) Sales() domain.SaleStore             { return s.direct().Sales() }
func (s *Store) Audit() domain.AuditStore            { return s.direct().Audit() }

// handle points either at a transaction snapshot (store == nil) or at the
// live state, in which case every access takes the store lock.
type handle struct {
	store *Store
	st    *state
	now   func() time.Time
}

func (h handle) read(fn func(st *state) error) error {
	if h.store == nil {
		return fn(h.st)
	}
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	return fn(h.store.state)
}

func (h handle) write(fn func(st *state) error) error {
	if h.store == nil {
		return fn(h.st)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return fn(h.store.state)
}

type stores struct{ h handle }

func (t stores) Listings() domain.ListingStore       { return &listingStore{t.h} }
func (t stores) Retirements() domain.RetirementStore { return &retirementStore{t.h} }
func (t stores) Registry() domain.RegistryStore      { return &registryStore{t.h} }
func (t stores) Credits() domain.CreditStore         { return &creditStore{t.h} }
func (t stores) Sales() domain.SaleStore             { return &saleStore{t.h} }
func (t stores) Audit() domain.AuditStore            { return &auditStore{t.h} }

// inWindow applies the Since (inclusive) and Until (exclusive) bounds.
func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !ts.Before(*opts.Until) {
		return false
	}
	return true
}

// page applies offset and limit to an already filtered, ordered slice.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// newestFirst orders by timestamp descending, then key ascending.
func newestFirst[T any](items []T, ts func(T) time.Time, key func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		ti, tj := ts(items[i]), ts(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return key(items[i]) < key(items[j])
	})
}

var _ domain.Store = (*Store)(nil)
