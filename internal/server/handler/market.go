package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/certificate"
	"github.com/alanyoungcy/carbonex/internal/domain"
)

// MarketReader serves the read side of the exchange.
type MarketReader interface {
	GetListing(ctx context.Context, assetID string) (domain.Listing, error)
	ListListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error)
	Stats(ctx context.Context) (domain.MarketStats, error)
	GetRetirement(ctx context.Context, assetID string) (domain.RetirementRecord, error)
	ListRetirements(ctx context.Context, opts domain.ListOpts) ([]domain.RetirementRecord, error)
	ListSales(ctx context.Context, party *common.Address, opts domain.ListOpts) ([]domain.Sale, error)
}

// CertificateFetcher loads stored retirement certificates.
type CertificateFetcher interface {
	Fetch(ctx context.Context, assetID string) ([]byte, error)
}

// MarketHandler serves listings, retirements, sales and statistics.
type MarketHandler struct {
	market MarketReader
	certs  CertificateFetcher
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. certs may be nil when
// certificates are disabled.
func NewMarketHandler(market MarketReader, certs CertificateFetcher, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{market: market, certs: certs, logger: logger}
}

// ListListings returns open listings, newest first.
// GET /api/listings?limit=50&offset=0
func (h *MarketHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listings, err := h.market.ListListings(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(listings))
}

// GetListing returns the open listing for one asset.
// GET /api/listings/{asset_id}
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.market.GetListing(r.Context(), pathParam(r, "asset_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListBySeller returns one seller's open listings.
// GET /api/sellers/{address}/listings
func (h *MarketHandler) ListBySeller(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress("address", pathParam(r, "address"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	listings, err := h.market.ListBySeller(r.Context(), seller, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(listings))
}

// Stats returns market-wide aggregates.
// GET /api/market/stats
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.market.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListRetirements returns the retirement ledger, newest first.
// GET /api/retirements?since=..&until=..
func (h *MarketHandler) ListRetirements(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	recs, err := h.market.ListRetirements(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// GetRetirement returns the retirement record of one asset.
// GET /api/retirements/{asset_id}
func (h *MarketHandler) GetRetirement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.market.GetRetirement(r.Context(), pathParam(r, "asset_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetCertificate streams the signed retirement certificate and reports its
// content identifier in the X-Certificate-CID header.
// GET /api/retirements/{asset_id}/certificate
func (h *MarketHandler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	if h.certs == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "certificates are disabled", Code: "not_found"})
		return
	}
	data, err := h.certs.Fetch(r.Context(), pathParam(r, "asset_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := certificate.CID(data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Certificate-CID", id.String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListSales returns completed sales, optionally only those involving party.
// GET /api/sales?party=0x..
func (h *MarketHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var party *common.Address
	if v := r.URL.Query().Get("party"); v != "" {
		addr, err := parseAddress("party", v)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		party = &addr
	}
	sales, err := h.market.ListSales(r.Context(), party, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sales))
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
