package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestCustodyMintTransferBurn(t *testing.T) {
	ctx := context.Background()
	c := NewCustody()
	if err := c.Mint(ctx, "a", alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := c.Mint(ctx, "a", bob); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second mint error = %v, want %v", err, domain.ErrAlreadyExists)
	}
	if err := c.Transfer(ctx, "a", alice, bob, 1); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n, _ := c.Balance(ctx, "a", bob); n != 1 {
		t.Fatalf("bob balance = %d, want 1", n)
	}
	if n, _ := c.Balance(ctx, "a", alice); n != 0 {
		t.Fatalf("alice balance = %d, want 0", n)
	}
	if err := c.Transfer(ctx, "a", alice, bob, 1); !errors.Is(err, ErrInsufficientUnits) {
		t.Fatalf("empty transfer error = %v, want %v", err, ErrInsufficientUnits)
	}
	if err := c.Burn(ctx, "a", bob, 1); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if n, _ := c.Balance(ctx, "a", bob); n != 0 {
		t.Fatalf("balance after burn = %d, want 0", n)
	}
}

func TestCustodyFrozenHoldingCannotMove(t *testing.T) {
	ctx := context.Background()
	c := NewCustody()
	if err := c.Mint(ctx, "a", alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := c.Freeze(ctx, "a", alice); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if frozen, _ := c.IsFrozen(ctx, "a", alice); !frozen {
		t.Fatal("holding should be frozen")
	}
	if err := c.Transfer(ctx, "a", alice, bob, 1); !errors.Is(err, ErrFrozen) {
		t.Fatalf("transfer error = %v, want %v", err, ErrFrozen)
	}
	if err := c.Burn(ctx, "a", alice, 1); !errors.Is(err, ErrFrozen) {
		t.Fatalf("burn error = %v, want %v", err, ErrFrozen)
	}
	if err := c.Unfreeze(ctx, "a", alice); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if err := c.Freeze(ctx, "a", bob); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("freeze unknown holder error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestCustodyFailNextIsOneShot(t *testing.T) {
	ctx := context.Background()
	c := NewCustody()
	if err := c.Mint(ctx, "a", alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	boom := errors.New("boom")
	c.FailNext(OpTransfer, boom)
	if err := c.Transfer(ctx, "a", alice, bob, 1); !errors.Is(err, boom) {
		t.Fatalf("first transfer error = %v, want %v", err, boom)
	}
	if err := c.Transfer(ctx, "a", alice, bob, 1); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
}

func TestPaymentsTransfer(t *testing.T) {
	ctx := context.Background()
	p := NewPayments()
	p.Deposit(alice, 150)

	if err := p.Transfer(ctx, alice, bob, 100); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := p.Transfer(ctx, alice, bob, 100); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraft error = %v, want %v", err, domain.ErrInsufficientFunds)
	}
	a, _ := p.Balance(ctx, alice)
	b, _ := p.Balance(ctx, bob)
	if a != 50 || b != 100 {
		t.Fatalf("balances = %d/%d, want 50/100", a, b)
	}

	boom := errors.New("ledger offline")
	p.FailNext(boom)
	if err := p.Transfer(ctx, alice, bob, 1); !errors.Is(err, boom) {
		t.Fatalf("faulted transfer error = %v, want %v", err, boom)
	}
}
