package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists open listings keyed by asset id.
type ListingStore interface {
	// Create fails with ErrListingExists when the asset is already listed.
	Create(ctx context.Context, l Listing) error
	Get(ctx context.Context, assetID string) (Listing, error)
	// Delete reclaims the listing and fails with ErrNotFound when absent.
	Delete(ctx context.Context, assetID string) error
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Listing, error)
	Stats(ctx context.Context) (ListingStats, error)
}

// RetirementStore is the append-only retirement ledger.
type RetirementStore interface {
	// Insert fails with ErrAlreadyRetired when a record exists for the asset.
	Insert(ctx context.Context, r RetirementRecord) error
	Get(ctx context.Context, assetID string) (RetirementRecord, error)
	List(ctx context.Context, opts ListOpts) ([]RetirementRecord, error)
	Count(ctx context.Context) (int64, error)
}

// RegistryStore persists the exchange singleton.
type RegistryStore interface {
	// Init creates the registry if it does not exist and returns the stored
	// row either way.
	Init(ctx context.Context, authority common.Address) (ExchangeRegistry, error)
	Get(ctx context.Context) (ExchangeRegistry, error)
	IncrementAssets(ctx context.Context) (uint64, error)
	// DecrementAssets saturates at zero.
	DecrementAssets(ctx context.Context) (uint64, error)
}

// CreditStore persists the credit catalogue.
type CreditStore interface {
	Create(ctx context.Context, c Credit) error
	Get(ctx context.Context, assetID string) (Credit, error)
	UpdateState(ctx context.Context, assetID string, owner common.Address, status CreditStatus) error
	List(ctx context.Context, filter CreditFilter, opts ListOpts) ([]Credit, error)
}

// SaleStore persists completed sales.
type SaleStore interface {
	Insert(ctx context.Context, s Sale) error
	// List returns sales where party was buyer or seller; nil matches all.
	List(ctx context.Context, party *common.Address, opts ListOpts) ([]Sale, error)
	Stats(ctx context.Context) (SaleStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Listings() ListingStore
	Retirements() RetirementStore
	Registry() RegistryStore
	Credits() CreditStore
	Sales() SaleStore
	Audit() AuditStore
}

// Store is a storage backend. The embedded Tx accessors run outside any
// transaction; WithTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
