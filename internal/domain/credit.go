package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxAssetIDLen bounds asset identifiers accepted by the exchange.
const MaxAssetIDLen = 128

// CreditStatus tracks where a credit sits in its lifecycle.
type CreditStatus string

const (
	CreditStatusActive  CreditStatus = "active"
	CreditStatusListed  CreditStatus = "listed"
	CreditStatusRetired CreditStatus = "retired"
)

// CreditMetadata describes the offset project behind a credit.
type CreditMetadata struct {
	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
	VintageYear uint16 `json:"vintage_year"`
	MetricTons  uint64 `json:"metric_tons"`
	Validator   string `json:"validator,omitempty"`
	Standard    string `json:"standard,omitempty"`
	ProjectType string `json:"project_type,omitempty"`
	Country     string `json:"country,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// Credit is the catalogue entry for a single minted carbon credit.
type Credit struct {
	AssetID   string         `json:"asset_id"`
	Owner     common.Address `json:"owner"`
	Metadata  CreditMetadata `json:"metadata"`
	Status    CreditStatus   `json:"status"`
	MintedAt  time.Time      `json:"minted_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreditFilter narrows credit listings. Zero values match everything.
type CreditFilter struct {
	Owner  *common.Address
	Status CreditStatus
}

// ValidateAssetID checks that id is usable as a storage key.
func ValidateAssetID(id string) error {
	if strings.TrimSpace(id) == "" || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: %q", ErrInvalidMint, id)
	}
	if len(id) > MaxAssetIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidMint, MaxAssetIDLen)
	}
	return nil
}
