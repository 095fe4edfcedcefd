// Package payment is the REST client for an external payment ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/platform/ledgerapi"
)

// Client implements domain.PaymentAdapter over HTTP.
type Client struct {
	api *ledgerapi.Client
}

// NewClient creates a payment client for baseURL.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	return &Client{api: ledgerapi.New(baseURL, auth, timeout)}
}

type account struct {
	Balance uint64 `json:"balance"`
}

type transferRequest struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

// Balance returns account's spendable balance; unknown accounts hold 0.
func (c *Client) Balance(ctx context.Context, acct common.Address) (uint64, error) {
	var a account
	if err := c.api.Do(ctx, http.MethodGet, "/v1/accounts/"+acct.Hex(), nil, &a); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("payment: balance %s: %w", acct.Hex(), err)
	}
	return a.Balance, nil
}

// Transfer moves amount from one account to another. It fails with
// domain.ErrInsufficientFunds when the sender cannot cover it.
func (c *Client) Transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	req := transferRequest{From: from, To: to, Amount: amount}
	if err := c.api.Do(ctx, http.MethodPost, "/v1/transfers", req, nil); err != nil {
		return fmt.Errorf("payment: transfer %d from %s: %w", amount, from.Hex(), err)
	}
	return nil
}

var _ domain.PaymentAdapter = (*Client)(nil)
