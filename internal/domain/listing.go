package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is an open offer to sell one asset at a fixed price. There is at
// most one listing per asset.
type Listing struct {
	AssetID   string         `json:"asset_id"`
	Owner     common.Address `json:"owner"`
	Price     uint64         `json:"price"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sale is the immutable record of a completed purchase.
type Sale struct {
	ID          string         `json:"id"`
	AssetID     string         `json:"asset_id"`
	Seller      common.Address `json:"seller"`
	Buyer       common.Address `json:"buyer"`
	Price       uint64         `json:"price"`
	CompletedAt time.Time      `json:"completed_at"`
}

// ListingStats aggregates the currently open listings.
type ListingStats struct {
	TotalListings int64  `json:"total_listings"`
	ActiveSellers int64  `json:"active_sellers"`
	MinPrice      uint64 `json:"min_price"`
	MaxPrice      uint64 `json:"max_price"`
	ListedValue   uint64 `json:"listed_value"`
}

// MeanPrice returns the mean listing price, or 0 when nothing is listed.
func (s ListingStats) MeanPrice() uint64 {
	if s.TotalListings == 0 {
		return 0
	}
	return s.ListedValue / uint64(s.TotalListings)
}

// SaleStats aggregates completed sales.
type SaleStats struct {
	TotalSales int64  `json:"total_sales"`
	Volume     uint64 `json:"volume"`
}

// MarketStats is the combined view served to clients.
type MarketStats struct {
	ListingStats
	AveragePrice uint64 `json:"average_price"`
	SaleStats
	TotalAssets  uint64 `json:"total_assets"`
	TotalRetired int64  `json:"total_retired"`
}
