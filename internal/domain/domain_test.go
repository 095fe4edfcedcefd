package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNormalizeBeneficiary(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: owner.Hex()},
		{in: "   ", want: owner.Hex()},
		{in: "  Acme Corp  ", want: "Acme Corp"},
		{in: "Städtische Werke München", want: "Städtische Werke München"},
		{in: "0x70997970c51812dc3a010c7d01b50e0d17dc79c8", want: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
		{in: "0x0000000000000000000000000000000000000000", wantErr: true},
		{in: "Acme\nCorp", wantErr: true},
		{in: "bad\x00byte", wantErr: true},
		{in: strings.Repeat("x", MaxBeneficiaryLen+1), wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeBeneficiary(tt.in, owner)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidBeneficiary) {
				t.Fatalf("NormalizeBeneficiary(%q) error = %v, want %v", tt.in, err, ErrInvalidBeneficiary)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("NormalizeBeneficiary(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestValidateAssetID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "credit-1"},
		{id: "", wantErr: true},
		{id: "   ", wantErr: true},
		{id: " padded", wantErr: true},
		{id: strings.Repeat("a", MaxAssetIDLen)},
		{id: strings.Repeat("a", MaxAssetIDLen+1), wantErr: true},
	}
	for _, tt := range tests {
		err := ValidateAssetID(tt.id)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidMint) {
				t.Fatalf("ValidateAssetID(%q) = %v, want ErrInvalidMint", tt.id, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ValidateAssetID(%q) = %v, want nil", tt.id, err)
		}
	}
}

func TestListingStatsMeanPrice(t *testing.T) {
	if got := (ListingStats{}).MeanPrice(); got != 0 {
		t.Fatalf("empty mean = %d, want 0", got)
	}
	s := ListingStats{TotalListings: 3, ListedValue: 301}
	if got := s.MeanPrice(); got != 100 {
		t.Fatalf("mean = %d, want 100", got)
	}
}

func TestEventsReportTypeAndAsset(t *testing.T) {
	events := []struct {
		ev   Event
		want EventType
	}{
		{CreditMinted{AssetID: "a"}, EventCreditMinted},
		{ListingCreated{AssetID: "a"}, EventListingCreated},
		{ListingCancelled{AssetID: "a"}, EventListingCancelled},
		{SaleCompleted{AssetID: "a", ListingClosed: true}, EventSaleCompleted},
		{CreditRetired{AssetID: "a"}, EventCreditRetired},
	}
	for _, tt := range events {
		if tt.ev.Type() != tt.want {
			t.Fatalf("type = %s, want %s", tt.ev.Type(), tt.want)
		}
		if tt.ev.Asset() != "a" {
			t.Fatalf("%s asset = %q, want a", tt.want, tt.ev.Asset())
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidPrice, "invalid_price"},
		{fmt.Errorf("%w: %w", ErrTokenTransferFailed, errors.New("custody down")), "token_transfer_failed"},
		{fmt.Errorf("postgres: insert retirement a: %w", ErrAlreadyRetired), "already_retired"},
		{fmt.Errorf("exchange: buy a: %w", ErrPriceAboveLimit), "price_above_limit"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
