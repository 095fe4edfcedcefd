package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Payments is an in-memory domain.PaymentAdapter.
type Payments struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
	faults   faults
}

// NewPayments creates an empty payment ledger.
func NewPayments() *Payments {
	return &Payments{balances: map[common.Address]uint64{}}
}

// Deposit credits amount to account.
func (p *Payments) Deposit(account common.Address, amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[account] += amount
}

// FailNext makes the next Transfer return err.
func (p *Payments) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults.add(OpPay, err)
}

func (p *Payments) Balance(_ context.Context, account common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[account], nil
}

func (p *Payments) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.faults.take(OpPay); err != nil {
		return err
	}
	if p.balances[from] < amount {
		return fmt.Errorf("ledger: pay %d from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	p.balances[from] -= amount
	p.balances[to] += amount
	return nil
}

var _ domain.PaymentAdapter = (*Payments)(nil)
