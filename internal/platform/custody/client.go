// Package custody is the REST client for an external asset custody
// service.
package custody

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
	"github.com/alanyoungcy/carbonex/internal/platform/ledgerapi"
)

// Client implements domain.CustodyAdapter over HTTP.
type Client struct {
	api *ledgerapi.Client
}

// NewClient creates a custody client for baseURL, e.g.
// "https://custody.example.com".
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	return &Client{api: ledgerapi.New(baseURL, auth, timeout)}
}

type holding struct {
	Balance uint64 `json:"balance"`
	Frozen  bool   `json:"frozen"`
}

type transferRequest struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Quantity uint64         `json:"quantity"`
}

type holderRequest struct {
	Holder   common.Address `json:"holder"`
	Quantity uint64         `json:"quantity,omitempty"`
}

func assetPath(assetID, action string) string {
	return "/v1/assets/" + url.PathEscape(assetID) + "/" + action
}

func (c *Client) holding(ctx context.Context, assetID string, holder common.Address) (holding, error) {
	var h holding
	err := c.api.Do(ctx, http.MethodGet, assetPath(assetID, "holders/"+holder.Hex()), nil, &h)
	if err != nil {
		return holding{}, err
	}
	return h, nil
}

// Balance returns the units holder has of assetID; unknown holders hold 0.
func (c *Client) Balance(ctx context.Context, assetID string, holder common.Address) (uint64, error) {
	h, err := c.holding(ctx, assetID, holder)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("custody: balance %s: %w", assetID, err)
	}
	return h.Balance, nil
}

// IsFrozen reports whether holder's units of assetID are frozen.
func (c *Client) IsFrozen(ctx context.Context, assetID string, holder common.Address) (bool, error) {
	h, err := c.holding(ctx, assetID, holder)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("custody: frozen %s: %w", assetID, err)
	}
	return h.Frozen, nil
}

// Transfer moves qty units from one holder to another.
func (c *Client) Transfer(ctx context.Context, assetID string, from, to common.Address, qty uint64) error {
	req := transferRequest{From: from, To: to, Quantity: qty}
	if err := c.api.Do(ctx, http.MethodPost, assetPath(assetID, "transfer"), req, nil); err != nil {
		return fmt.Errorf("custody: transfer %s: %w", assetID, err)
	}
	return nil
}

// Freeze locks holder's units of assetID.
func (c *Client) Freeze(ctx context.Context, assetID string, holder common.Address) error {
	if err := c.api.Do(ctx, http.MethodPost, assetPath(assetID, "freeze"), holderRequest{Holder: holder}, nil); err != nil {
		return fmt.Errorf("custody: freeze %s: %w", assetID, err)
	}
	return nil
}

// Unfreeze releases holder's units of assetID.
func (c *Client) Unfreeze(ctx context.Context, assetID string, holder common.Address) error {
	if err := c.api.Do(ctx, http.MethodPost, assetPath(assetID, "unfreeze"), holderRequest{Holder: holder}, nil); err != nil {
		return fmt.Errorf("custody: unfreeze %s: %w", assetID, err)
	}
	return nil
}

// Burn destroys qty of holder's units.
func (c *Client) Burn(ctx context.Context, assetID string, holder common.Address, qty uint64) error {
	req := holderRequest{Holder: holder, Quantity: qty}
	if err := c.api.Do(ctx, http.MethodPost, assetPath(assetID, "burn"), req, nil); err != nil {
		return fmt.Errorf("custody: burn %s: %w", assetID, err)
	}
	return nil
}

var _ domain.CustodyAdapter = (*Client)(nil)
