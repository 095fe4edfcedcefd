package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type creditStore struct{ h handle }

func (s *creditStore) Create(_ context.Context, c domain.Credit) error {
	return s.h.write(func(st *state) error {
		if _, ok := st.credits[c.AssetID]; ok {
			return fmt.Errorf("memory: create credit %s: %w", c.AssetID, domain.ErrAlreadyExists)
		}
		now := s.h.now()
		if c.MintedAt.IsZero() {
			c.MintedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.MintedAt
		}
		if c.Status == "" {
			c.Status = domain.CreditStatusActive
		}
		st.credits[c.AssetID] = c
		return nil
	})
}

func (s *creditStore) Get(_ context.Context, assetID string) (domain.Credit, error) {
	var out domain.Credit
	err := s.h.read(func(st *state) error {
		c, ok := st.credits[assetID]
		if !ok {
			return fmt.Errorf("memory: get credit %s: %w", assetID, domain.ErrNotFound)
		}
		out = c
		return nil
	})
	return out, err
}

func (s *creditStore) UpdateState(_ context.Context, assetID string, owner common.Address, status domain.CreditStatus) error {
	return s.h.write(func(st *state) error {
		c, ok := st.credits[assetID]
		if !ok {
			return fmt.Errorf("memory: update credit %s: %w", assetID, domain.ErrNotFound)
		}
		c.Owner = owner
		c.Status = status
		c.UpdatedAt = s.h.now()
		st.credits[assetID] = c
		return nil
	})
}

func (s *creditStore) List(_ context.Context, filter domain.CreditFilter, opts domain.ListOpts) ([]domain.Credit, error) {
	var out []domain.Credit
	err := s.h.read(func(st *state) error {
		for _, c := range st.credits {
			if filter.Owner != nil && c.Owner != *filter.Owner {
				continue
			}
			if filter.Status != "" && c.Status != filter.Status {
				continue
			}
			if inWindow(c.MintedAt, opts) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out,
		func(c domain.Credit) time.Time { return c.MintedAt },
		func(c domain.Credit) string { return c.AssetID })
	return page(out, opts), nil
}

type saleStore struct{ h handle }

func (s *saleStore) Insert(_ context.Context, sale domain.Sale) error {
	return s.h.write(func(st *state) error {
		for _, existing := range st.sales {
			if existing.ID == sale.ID {
				return fmt.Errorf("memory: insert sale %s: %w", sale.ID, domain.ErrAlreadyExists)
			}
		}
		if sale.CompletedAt.IsZero() {
			sale.CompletedAt = s.h.now()
		}
		st.sales = append(st.sales, sale)
		return nil
	})
}

func (s *saleStore) List(_ context.Context, party *common.Address, opts domain.ListOpts) ([]domain.Sale, error) {
	var out []domain.Sale
	err := s.h.read(func(st *state) error {
		for _, sale := range st.sales {
			if party != nil && sale.Buyer != *party && sale.Seller != *party {
				continue
			}
			if inWindow(sale.CompletedAt, opts) {
				out = append(out, sale)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out,
		func(s domain.Sale) time.Time { return s.CompletedAt },
		func(s domain.Sale) string { return s.ID })
	return page(out, opts), nil
}

func (s *saleStore) Stats(_ context.Context) (domain.SaleStats, error) {
	var stats domain.SaleStats
	err := s.h.read(func(st *state) error {
		for _, sale := range st.sales {
			stats.TotalSales++
			stats.Volume += sale.Price
		}
		return nil
	})
	return stats, err
}

type auditStore struct{ h handle }

func (s *auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	return s.h.write(func(st *state) error {
		st.nextAuditID++
		st.audit = append(st.audit, domain.AuditEntry{
			ID:        st.nextAuditID,
			Event:     event,
			Detail:    detail,
			CreatedAt: s.h.now(),
		})
		return nil
	})
}

func (s *auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := s.h.read(func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			if inWindow(st.audit[i].CreatedAt, opts) {
				out = append(out, st.audit[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page(out, opts), nil
}
