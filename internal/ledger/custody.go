// Package ledger provides in-process custody and payment ledgers. They back
// the exchange in single-node deployments and stand in for the external
// services in tests, with injectable faults.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Op names a ledger operation for fault injection.
type Op string

const (
	OpTransfer Op = "transfer"
	OpFreeze   Op = "freeze"
	OpUnfreeze Op = "unfreeze"
	OpBurn     Op = "burn"
	OpPay      Op = "pay"
)

// ErrFrozen is returned when a frozen holding is moved or burned.
var ErrFrozen = errors.New("ledger: holding is frozen")

// ErrInsufficientUnits is returned when a holder has fewer units than asked.
var ErrInsufficientUnits = errors.New("ledger: insufficient units")

type holding struct {
	balance uint64
	frozen  bool
}

// faults holds one-shot errors keyed by operation.
type faults struct {
	next map[Op][]error
}

func (f *faults) add(op Op, err error) {
	if f.next == nil {
		f.next = map[Op][]error{}
	}
	f.next[op] = append(f.next[op], err)
}

func (f *faults) take(op Op) error {
	queue := f.next[op]
	if len(queue) == 0 {
		return nil
	}
	f.next[op] = queue[1:]
	return queue[0]
}

// Custody is an in-memory domain.CustodyAdapter.
type Custody struct {
	mu       sync.Mutex
	holdings map[string]map[common.Address]*holding
	faults   faults
}

// NewCustody creates an empty custody ledger.
func NewCustody() *Custody {
	return &Custody{holdings: map[string]map[common.Address]*holding{}}
}

// Mint creates one unit of assetID held by holder.
func (c *Custody) Mint(_ context.Context, assetID string, holder common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.holdings[assetID] {
		if h.balance > 0 {
			return fmt.Errorf("ledger: mint %s: %w", assetID, domain.ErrAlreadyExists)
		}
	}
	c.account(assetID, holder).balance = 1
	return nil
}

// FailNext makes the next call of op return err.
func (c *Custody) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults.add(op, err)
}

// account returns the holding, creating it on demand. Caller holds mu.
func (c *Custody) account(assetID string, holder common.Address) *holding {
	byHolder, ok := c.holdings[assetID]
	if !ok {
		byHolder = map[common.Address]*holding{}
		c.holdings[assetID] = byHolder
	}
	h, ok := byHolder[holder]
	if !ok {
		h = &holding{}
		byHolder[holder] = h
	}
	return h
}

func (c *Custody) lookup(assetID string, holder common.Address) (holding, bool) {
	h, ok := c.holdings[assetID][holder]
	if !ok {
		return holding{}, false
	}
	return *h, true
}

func (c *Custody) Balance(_ context.Context, assetID string, holder common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, _ := c.lookup(assetID, holder)
	return h.balance, nil
}

func (c *Custody) IsFrozen(_ context.Context, assetID string, holder common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, _ := c.lookup(assetID, holder)
	return h.frozen, nil
}

func (c *Custody) Transfer(_ context.Context, assetID string, from, to common.Address, qty uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faults.take(OpTransfer); err != nil {
		return err
	}
	src, ok := c.lookup(assetID, from)
	if !ok || src.balance < qty {
		return fmt.Errorf("ledger: transfer %s: %w", assetID, ErrInsufficientUnits)
	}
	if src.frozen {
		return fmt.Errorf("ledger: transfer %s: %w", assetID, ErrFrozen)
	}
	c.account(assetID, from).balance -= qty
	c.account(assetID, to).balance += qty
	return nil
}

func (c *Custody) Freeze(_ context.Context, assetID string, holder common.Address) error {
	return c.setFrozen(OpFreeze, assetID, holder, true)
}

func (c *Custody) Unfreeze(_ context.Context, assetID string, holder common.Address) error {
	return c.setFrozen(OpUnfreeze, assetID, holder, false)
}

func (c *Custody) setFrozen(op Op, assetID string, holder common.Address, frozen bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faults.take(op); err != nil {
		return err
	}
	if _, ok := c.lookup(assetID, holder); !ok {
		return fmt.Errorf("ledger: %s %s: %w", op, assetID, domain.ErrNotFound)
	}
	c.account(assetID, holder).frozen = frozen
	return nil
}

func (c *Custody) Burn(_ context.Context, assetID string, holder common.Address, qty uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.faults.take(OpBurn); err != nil {
		return err
	}
	h, ok := c.lookup(assetID, holder)
	if !ok || h.balance < qty {
		return fmt.Errorf("ledger: burn %s: %w", assetID, ErrInsufficientUnits)
	}
	if h.frozen {
		return fmt.Errorf("ledger: burn %s: %w", assetID, ErrFrozen)
	}
	c.account(assetID, holder).balance -= qty
	return nil
}

var _ domain.CustodyAdapter = (*Custody)(nil)
