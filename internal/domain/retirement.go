package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultRetirementReason is recorded when the caller gives none.
const DefaultRetirementReason = "carbon offset"

// MaxBeneficiaryLen bounds a beneficiary name in bytes.
const MaxBeneficiaryLen = 256

// NormalizeBeneficiary returns the identity a retirement is claimed for.
// A hex address is stored in checksum form; anything else is a registered
// name (a company or person) that must be printable text of at most
// MaxBeneficiaryLen bytes. An empty value yields owner.
func NormalizeBeneficiary(beneficiary string, owner common.Address) (string, error) {
	b := strings.TrimSpace(beneficiary)
	switch {
	case b == "":
		return owner.Hex(), nil
	case common.IsHexAddress(b):
		if addr := common.HexToAddress(b); addr != (common.Address{}) {
			return addr.Hex(), nil
		}
		return "", fmt.Errorf("%w: zero address", ErrInvalidBeneficiary)
	case len(b) > MaxBeneficiaryLen:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidBeneficiary, MaxBeneficiaryLen)
	case !utf8.ValidString(b):
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidBeneficiary)
	}
	for _, r := range b {
		if !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidBeneficiary)
		}
	}
	return b, nil
}

// RetirementRecord is the permanent proof that a credit was burned on behalf
// of a beneficiary. Records are never updated or deleted.
type RetirementRecord struct {
	AssetID        string         `json:"asset_id"`
	Owner          common.Address `json:"owner"`
	Beneficiary    string         `json:"beneficiary"`
	Reason         string         `json:"reason"`
	RetirementDate time.Time      `json:"retirement_date"`
}

// ExchangeRegistry is the exchange-wide singleton. TotalAssets counts minted
// credits that have not been retired.
type ExchangeRegistry struct {
	Authority   common.Address `json:"authority"`
	TotalAssets uint64         `json:"total_assets"`
	CreatedAt   time.Time      `json:"created_at"`
}
