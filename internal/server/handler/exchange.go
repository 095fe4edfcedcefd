package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Exchange is the listing lifecycle the handler drives.
type Exchange interface {
	List(ctx context.Context, owner common.Address, assetID string, price uint64) (domain.Listing, error)
	BuyWithLimit(ctx context.Context, buyer, seller common.Address, assetID string, maxPrice uint64) (domain.Sale, error)
	Cancel(ctx context.Context, owner common.Address, assetID string) error
	Retire(ctx context.Context, owner common.Address, assetID, beneficiary, reason string) (domain.RetirementRecord, error)
}

// ExchangeHandler serves the signed-intent trading endpoints.
type ExchangeHandler struct {
	exchange Exchange
	verifier IntentVerifier
	logger   *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(exchange Exchange, verifier IntentVerifier, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{exchange: exchange, verifier: verifier, logger: logger}
}

// CreateListing lists the actor's unit at the intent price.
// POST /api/listings
func (h *ExchangeHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req signedIntent
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), h.verifier, req, crypto.ActionList, ""); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := req.Intent
	listing, err := h.exchange.List(r.Context(), in.Actor, in.AssetID, in.Price)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// Buy purchases the listed unit. The intent price is the most the buyer
// agrees to pay and the counterparty is the seller.
// POST /api/listings/{asset_id}/buy
func (h *ExchangeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "asset_id")
	var req signedIntent
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), h.verifier, req, crypto.ActionBuy, assetID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := req.Intent
	sale, err := h.exchange.BuyWithLimit(r.Context(), in.Actor, in.Counterparty, assetID, in.Price)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// Cancel withdraws the actor's listing.
// POST /api/listings/{asset_id}/cancel
func (h *ExchangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	assetID := pathParam(r, "asset_id")
	var req signedIntent
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), h.verifier, req, crypto.ActionCancel, assetID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.exchange.Cancel(r.Context(), req.Intent.Actor, assetID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset_id": assetID,
		"status":   "cancelled",
	})
}

type retireRequest struct {
	signedIntent
	Reason string `json:"reason,omitempty"`
}

// Retire permanently retires the actor's unit for the intent beneficiary.
// POST /api/retirements
func (h *ExchangeHandler) Retire(w http.ResponseWriter, r *http.Request) {
	var req retireRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := authorize(r.Context(), h.verifier, req.signedIntent, crypto.ActionRetire, ""); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := req.Intent
	rec, err := h.exchange.Retire(r.Context(), in.Actor, in.AssetID, in.Beneficiary, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
