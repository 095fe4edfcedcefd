package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/crypto"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

// Registry is the registry surface the handlers need.
type Registry interface {
	Get(ctx context.Context) (domain.ExchangeRegistry, error)
	RecordMint(ctx context.Context, assetID string, owner common.Address, meta domain.CreditMetadata) (domain.Credit, error)
}

// CreditReader reads the credit catalogue.
type CreditReader interface {
	GetCredit(ctx context.Context, assetID string) (domain.Credit, error)
	ListCredits(ctx context.Context, filter domain.CreditFilter, opts domain.ListOpts) ([]domain.Credit, error)
}

// CreditHandler serves the registry and the credit catalogue.
type CreditHandler struct {
	registry Registry
	credits  CreditReader
	verifier IntentVerifier
	logger   *slog.Logger
}

// NewCreditHandler creates a CreditHandler.
func NewCreditHandler(registry Registry, credits CreditReader, verifier IntentVerifier, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{registry: registry, credits: credits, verifier: verifier, logger: logger}
}

// GetRegistry returns the exchange singleton.
// GET /api/registry
func (h *CreditHandler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registry.Get(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type mintRequest struct {
	signedIntent
	Metadata domain.CreditMetadata `json:"metadata"`
}

// Mint records a credit minted by the registry authority. The intent actor
// must be the authority and the counterparty receives the credit.
// POST /api/credits
func (h *CreditHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := req.Intent
	if in.Counterparty == (common.Address{}) {
		writeError(w, r, h.logger, badRequest("intent counterparty must name the credit owner"))
		return
	}
	reg, err := h.registry.Get(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if in.Actor != reg.Authority {
		writeError(w, r, h.logger, fmt.Errorf("mint by %s: %w", in.Actor.Hex(), domain.ErrUnauthorized))
		return
	}
	if err := authorize(r.Context(), h.verifier, req.signedIntent, crypto.ActionMint, ""); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	credit, err := h.registry.RecordMint(r.Context(), in.AssetID, in.Counterparty, req.Metadata)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, credit)
}

// ListCredits returns catalogue entries, optionally filtered by owner and
// status.
// GET /api/credits?owner=0x..&status=active
func (h *CreditHandler) ListCredits(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var filter domain.CreditFilter
	if v := r.URL.Query().Get("owner"); v != "" {
		owner, err := parseAddress("owner", v)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		filter.Owner = &owner
	}
	switch status := domain.CreditStatus(r.URL.Query().Get("status")); status {
	case "", domain.CreditStatusActive, domain.CreditStatusListed, domain.CreditStatusRetired:
		filter.Status = status
	default:
		writeError(w, r, h.logger, badRequest("unknown status %q", status))
		return
	}

	credits, err := h.credits.ListCredits(r.Context(), filter, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(credits))
}

// GetCredit returns one catalogue entry.
// GET /api/credits/{asset_id}
func (h *CreditHandler) GetCredit(w http.ResponseWriter, r *http.Request) {
	credit, err := h.credits.GetCredit(r.Context(), pathParam(r, "asset_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, credit)
}
