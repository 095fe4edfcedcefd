package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestListingCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Listings().Create(ctx, domain.Listing{AssetID: "a", Owner: alice, Price: 10}); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	err := s.Listings().Create(ctx, domain.Listing{AssetID: "a", Owner: bob, Price: 20})
	if !errors.Is(err, domain.ErrListingExists) {
		t.Fatalf("duplicate create error = %v, want %v", err, domain.ErrListingExists)
	}
	got, err := s.Listings().Get(ctx, "a")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.Owner != alice || got.Price != 10 {
		t.Fatalf("listing = %+v, want original", got)
	}
}

func TestListingDeleteMissing(t *testing.T) {
	err := New().Listings().Delete(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Registry().Init(ctx, alice); err != nil {
		t.Fatalf("init registry: %v", err)
	}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.Listings().Create(ctx, domain.Listing{AssetID: "a", Owner: alice, Price: 1}); err != nil {
			return err
		}
		if _, err := tx.Registry().IncrementAssets(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want %v", err, boom)
	}
	if _, err := s.Listings().Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("listing after rollback error = %v, want not found", err)
	}
	reg, err := s.Registry().Get(ctx)
	if err != nil {
		t.Fatalf("get registry: %v", err)
	}
	if reg.TotalAssets != 0 {
		t.Fatalf("total_assets = %d, want 0", reg.TotalAssets)
	}
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.WithTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.Registry().Init(ctx, alice); err != nil {
			return err
		}
		return tx.Retirements().Insert(ctx, domain.RetirementRecord{AssetID: "a", Owner: alice, Beneficiary: "z"})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	rec, err := s.Retirements().Get(ctx, "a")
	if err != nil {
		t.Fatalf("get retirement: %v", err)
	}
	if rec.Beneficiary != "z" || rec.RetirementDate.IsZero() {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRegistryDecrementSaturates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Registry().Init(ctx, alice); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	if _, err := s.Registry().IncrementAssets(ctx); err != nil {
		t.Fatalf("increment: %v", err)
	}
	for i, want := range []uint64{0, 0} {
		got, err := s.Registry().DecrementAssets(ctx)
		if err != nil {
			t.Fatalf("decrement %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("decrement %d = %d, want %d", i, got, want)
		}
	}
}

func TestRegistryInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	first, err := s.Registry().Init(ctx, alice)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	second, err := s.Registry().Init(ctx, bob)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second.Authority != first.Authority {
		t.Fatalf("authority = %s, want %s", second.Authority, first.Authority)
	}
}

func TestRetirementInsertIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := domain.RetirementRecord{AssetID: "a", Owner: alice, Beneficiary: "z"}
	if err := s.Retirements().Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Retirements().Insert(ctx, rec); !errors.Is(err, domain.ErrAlreadyRetired) {
		t.Fatalf("second insert error = %v, want %v", err, domain.ErrAlreadyRetired)
	}
	n, err := s.Retirements().Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v, want 1", n, err)
	}
}

func TestListingQueriesAndStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	listings := []domain.Listing{
		{AssetID: "a", Owner: alice, Price: 100, CreatedAt: base},
		{AssetID: "b", Owner: alice, Price: 300, CreatedAt: base.Add(time.Minute)},
		{AssetID: "c", Owner: bob, Price: 200, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, l := range listings {
		if err := s.Listings().Create(ctx, l); err != nil {
			t.Fatalf("create %s: %v", l.AssetID, err)
		}
	}

	all, err := s.Listings().List(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].AssetID != "c" || all[1].AssetID != "b" {
		t.Fatalf("list = %+v, want c,b", all)
	}

	mine, err := s.Listings().ListBySeller(ctx, alice, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list by seller: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("seller listings = %d, want 2", len(mine))
	}

	stats, err := s.Listings().Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.ListingStats{TotalListings: 3, ActiveSellers: 2, MinPrice: 100, MaxPrice: 300, ListedValue: 600}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestSalesFilterByParty(t *testing.T) {
	ctx := context.Background()
	s := New()
	carol := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	sales := []domain.Sale{
		{ID: "1", AssetID: "a", Seller: alice, Buyer: bob, Price: 10},
		{ID: "2", AssetID: "b", Seller: bob, Buyer: carol, Price: 20},
	}
	for _, sale := range sales {
		if err := s.Sales().Insert(ctx, sale); err != nil {
			t.Fatalf("insert sale: %v", err)
		}
	}
	got, err := s.Sales().List(ctx, &alice, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("alice sales = %+v", got)
	}
	stats, err := s.Sales().Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSales != 2 || stats.Volume != 30 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCreditUpdateState(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Credits().Create(ctx, domain.Credit{AssetID: "a", Owner: alice}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Credits().Create(ctx, domain.Credit{AssetID: "a", Owner: alice}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate error = %v, want %v", err, domain.ErrAlreadyExists)
	}
	if err := s.Credits().UpdateState(ctx, "a", bob, domain.CreditStatusListed); err != nil {
		t.Fatalf("update: %v", err)
	}
	listed, err := s.Credits().List(ctx, domain.CreditFilter{Owner: &bob, Status: domain.CreditStatusListed}, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].AssetID != "a" {
		t.Fatalf("credits = %+v", listed)
	}
}

func TestAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, ev := range []string{"one", "two"} {
		if err := s.Audit().Log(ctx, ev, map[string]any{"k": ev}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	entries, err := s.Audit().List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "two" || entries[0].ID != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}
