package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// CustodyAdapter moves single-unit assets between holders. Implementations
// create the receiving holder account on demand.
type CustodyAdapter interface {
	Balance(ctx context.Context, assetID string, holder common.Address) (uint64, error)
	IsFrozen(ctx context.Context, assetID string, holder common.Address) (bool, error)
	Transfer(ctx context.Context, assetID string, from, to common.Address, qty uint64) error
	Freeze(ctx context.Context, assetID string, holder common.Address) error
	Unfreeze(ctx context.Context, assetID string, holder common.Address) error
	Burn(ctx context.Context, assetID string, holder common.Address, qty uint64) error
}

// PaymentAdapter moves a fungible balance between identities. Transfer is
// atomic and returns ErrInsufficientFunds when the sender cannot cover the
// amount.
type PaymentAdapter interface {
	Balance(ctx context.Context, account common.Address) (uint64, error)
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
}
