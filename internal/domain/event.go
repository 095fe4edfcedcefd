package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed exchange transition.
type EventType string

const (
	EventCreditMinted     EventType = "credit_minted"
	EventListingCreated   EventType = "listing_created"
	EventListingCancelled EventType = "listing_cancelled"
	EventSaleCompleted    EventType = "sale_completed"
	EventCreditRetired    EventType = "credit_retired"
)

// Event is a notification emitted after a transition commits.
type Event interface {
	Type() EventType
	Asset() string
	OccurredAt() time.Time
}

// CreditMinted is emitted when a newly minted credit is recorded.
type CreditMinted struct {
	AssetID     string         `json:"asset_id"`
	Owner       common.Address `json:"owner"`
	ProjectName string         `json:"project_name"`
	ProjectID   string         `json:"project_id"`
	VintageYear uint16         `json:"vintage_year"`
	MetricTons  uint64         `json:"metric_tons"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (CreditMinted) Type() EventType         { return EventCreditMinted }
func (e CreditMinted) Asset() string         { return e.AssetID }
func (e CreditMinted) OccurredAt() time.Time { return e.Timestamp }

// ListingCreated is emitted when an asset is put up for sale.
type ListingCreated struct {
	AssetID   string         `json:"asset_id"`
	Owner     common.Address `json:"owner"`
	Price     uint64         `json:"price"`
	Timestamp time.Time      `json:"timestamp"`
}

func (ListingCreated) Type() EventType         { return EventListingCreated }
func (e ListingCreated) Asset() string         { return e.AssetID }
func (e ListingCreated) OccurredAt() time.Time { return e.Timestamp }

// ListingCancelled is emitted when an owner withdraws a listing.
type ListingCancelled struct {
	AssetID   string         `json:"asset_id"`
	Owner     common.Address `json:"owner"`
	Timestamp time.Time      `json:"timestamp"`
}

func (ListingCancelled) Type() EventType         { return EventListingCancelled }
func (e ListingCancelled) Asset() string         { return e.AssetID }
func (e ListingCancelled) OccurredAt() time.Time { return e.Timestamp }

// SaleCompleted is emitted when a listed asset is bought. ListingClosed is
// always true: a sale reclaims the listing.
type SaleCompleted struct {
	AssetID       string         `json:"asset_id"`
	Seller        common.Address `json:"seller"`
	Buyer         common.Address `json:"buyer"`
	Price         uint64         `json:"price"`
	Timestamp     time.Time      `json:"timestamp"`
	ListingClosed bool           `json:"listing_closed"`
}

func (SaleCompleted) Type() EventType         { return EventSaleCompleted }
func (e SaleCompleted) Asset() string         { return e.AssetID }
func (e SaleCompleted) OccurredAt() time.Time { return e.Timestamp }

// CreditRetired is emitted when a credit is burned.
type CreditRetired struct {
	AssetID        string         `json:"asset_id"`
	Owner          common.Address `json:"owner"`
	Beneficiary    string         `json:"beneficiary"`
	RetirementDate time.Time      `json:"retirement_date"`
}

func (CreditRetired) Type() EventType         { return EventCreditRetired }
func (e CreditRetired) Asset() string         { return e.AssetID }
func (e CreditRetired) OccurredAt() time.Time { return e.RetirementDate }

// EventEnvelope is the wire form of an event on the bus and the websocket.
type EventEnvelope struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	AssetID    string          `json:"asset_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventSink receives events after the transition that produced them has
// been committed.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
