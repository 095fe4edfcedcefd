package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type retirementStore struct{ h handle }

func (s *retirementStore) Insert(_ context.Context, r domain.RetirementRecord) error {
	return s.h.write(func(st *state) error {
		if _, ok := st.retirements[r.AssetID]; ok {
			return fmt.Errorf("memory: insert retirement %s: %w", r.AssetID, domain.ErrAlreadyRetired)
		}
		if r.RetirementDate.IsZero() {
			r.RetirementDate = s.h.now()
		}
		st.retirements[r.AssetID] = r
		return nil
	})
}

func (s *retirementStore) Get(_ context.Context, assetID string) (domain.RetirementRecord, error) {
	var out domain.RetirementRecord
	err := s.h.read(func(st *state) error {
		r, ok := st.retirements[assetID]
		if !ok {
			return fmt.Errorf("memory: get retirement %s: %w", assetID, domain.ErrNotFound)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *retirementStore) List(_ context.Context, opts domain.ListOpts) ([]domain.RetirementRecord, error) {
	var out []domain.RetirementRecord
	err := s.h.read(func(st *state) error {
		for _, r := range st.retirements {
			if inWindow(r.RetirementDate, opts) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out,
		func(r domain.RetirementRecord) time.Time { return r.RetirementDate },
		func(r domain.RetirementRecord) string { return r.AssetID })
	return page(out, opts), nil
}

func (s *retirementStore) Count(_ context.Context) (int64, error) {
	var n int64
	err := s.h.read(func(st *state) error {
		n = int64(len(st.retirements))
		return nil
	})
	return n, err
}

type registryStore struct{ h handle }

func (s *registryStore) Init(_ context.Context, authority common.Address) (domain.ExchangeRegistry, error) {
	var out domain.ExchangeRegistry
	err := s.h.write(func(st *state) error {
		if st.registry == nil {
			st.registry = &domain.ExchangeRegistry{Authority: authority, CreatedAt: s.h.now()}
		}
		out = *st.registry
		return nil
	})
	return out, err
}

func (s *registryStore) Get(_ context.Context) (domain.ExchangeRegistry, error) {
	var out domain.ExchangeRegistry
	err := s.h.read(func(st *state) error {
		if st.registry == nil {
			return fmt.Errorf("memory: get registry: %w", domain.ErrNotFound)
		}
		out = *st.registry
		return nil
	})
	return out, err
}

func (s *registryStore) IncrementAssets(_ context.Context) (uint64, error) {
	var total uint64
	err := s.h.write(func(st *state) error {
		if st.registry == nil {
			return fmt.Errorf("memory: increment assets: %w", domain.ErrNotFound)
		}
		st.registry.TotalAssets++
		total = st.registry.TotalAssets
		return nil
	})
	return total, err
}

func (s *registryStore) DecrementAssets(_ context.Context) (uint64, error) {
	var total uint64
	err := s.h.write(func(st *state) error {
		if st.registry == nil {
			return fmt.Errorf("memory: decrement assets: %w", domain.ErrNotFound)
		}
		if st.registry.TotalAssets > 0 {
			st.registry.TotalAssets--
		}
		total = st.registry.TotalAssets
		return nil
	})
	return total, err
}
