package domain

import "errors"

// Exchange rule violations. Callers match these with errors.Is; adapter
// failures are wrapped so the underlying cause stays available.
var (
	ErrInvalidPrice        = errors.New("price must be greater than zero")
	ErrInvalidTokenBalance = errors.New("token balance must be exactly 1")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTransferFailed      = errors.New("payment transfer failed")
	ErrTokenTransferFailed = errors.New("token transfer failed")
	ErrTokenBurnFailed     = errors.New("token burn failed")
	ErrFreezeFailed        = errors.New("token freeze failed")
	ErrInvalidOwner        = errors.New("caller is not the listing owner")
	ErrInvalidMint         = errors.New("invalid asset id")
	ErrNotLocked           = errors.New("asset must be locked while listed")
	ErrListingExists       = errors.New("listing already exists")
	ErrListingNotFound     = errors.New("listing not found")
	ErrAlreadyRetired      = errors.New("credit already retired")
	ErrAssetListed         = errors.New("asset is listed for sale")
	ErrSelfPurchase        = errors.New("buyer and seller must differ")
	ErrPriceAboveLimit     = errors.New("listing price exceeds buyer limit")
	ErrInvalidBeneficiary  = errors.New("invalid beneficiary")
)

// Infrastructure and access errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrSigningFailed    = errors.New("signing failed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrIntentExpired    = errors.New("intent expired")
	ErrReplay           = errors.New("intent nonce already used")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidPrice, "invalid_price"},
	{ErrInvalidTokenBalance, "invalid_token_balance"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrTokenTransferFailed, "token_transfer_failed"},
	{ErrTokenBurnFailed, "token_burn_failed"},
	{ErrFreezeFailed, "freeze_failed"},
	{ErrInvalidOwner, "invalid_owner"},
	{ErrInvalidMint, "invalid_mint"},
	{ErrNotLocked, "not_locked"},
	{ErrListingExists, "listing_exists"},
	{ErrListingNotFound, "listing_not_found"},
	{ErrAlreadyRetired, "already_retired"},
	{ErrAssetListed, "asset_listed"},
	{ErrSelfPurchase, "self_purchase"},
	{ErrPriceAboveLimit, "price_above_limit"},
	{ErrInvalidBeneficiary, "invalid_beneficiary"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrRateLimited, "rate_limited"},
	{ErrUnauthorized, "unauthorized"},
	{ErrLockHeld, "lock_held"},
	{ErrSigningFailed, "signing_failed"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrIntentExpired, "intent_expired"},
	{ErrReplay, "replay"},
}

// ErrorCode returns the stable API code for the first sentinel err wraps,
// or "internal" when it wraps none.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
