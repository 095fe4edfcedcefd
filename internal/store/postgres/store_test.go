package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x", Host: "ignored"},
			want: "postgres://x",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "carbonex", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/carbonex?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "c", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/c?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendWindowAndPage(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	opts := domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20}

	query, args := appendWindow("SELECT 1 FROM t WHERE owner = $1", []any{"x"}, "created_at", opts)
	query, args = appendPage(query, args, opts)

	want := "SELECT 1 FROM t WHERE owner = $1 AND created_at >= $2 AND created_at < $3 LIMIT $4 OFFSET $5"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}
}

// TestStoreIntegration runs against a live database when
// CARBONEX_TEST_POSTGRES_DSN is set.
func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("CARBONEX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CARBONEX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewStore(client)
	t.Cleanup(func() { _ = store.Close() })

	for _, table := range []string{"listings", "retirements", "credits", "sales", "exchange_registry"} {
		if _, err := client.Pool().Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	if _, err := store.Registry().Init(ctx, owner); err != nil {
		t.Fatalf("init registry: %v", err)
	}

	err = store.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.Listings().Create(ctx, domain.Listing{AssetID: "a", Owner: owner, Price: 100}); err != nil {
			return err
		}
		_, err := tx.Registry().IncrementAssets(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	err = store.Listings().Create(ctx, domain.Listing{AssetID: "a", Owner: owner, Price: 5})
	if !errors.Is(err, domain.ErrListingExists) {
		t.Fatalf("duplicate listing error = %v, want %v", err, domain.ErrListingExists)
	}

	for _, want := range []uint64{0, 0} {
		got, err := store.Registry().DecrementAssets(ctx)
		if err != nil {
			t.Fatalf("decrement: %v", err)
		}
		if got != want {
			t.Fatalf("total_assets = %d, want %d", got, want)
		}
	}

	rec := domain.RetirementRecord{AssetID: "a", Owner: owner, Beneficiary: "z"}
	if err := store.Retirements().Insert(ctx, rec); err != nil {
		t.Fatalf("insert retirement: %v", err)
	}
	if err := store.Retirements().Insert(ctx, rec); !errors.Is(err, domain.ErrAlreadyRetired) {
		t.Fatalf("second retirement error = %v, want %v", err, domain.ErrAlreadyRetired)
	}
}
