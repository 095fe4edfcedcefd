package crypto

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// IntentVerifier authenticates signed intents: the recovered signer must be
// the actor, the deadline must not have passed, and the (actor, nonce) pair
// must be fresh.
type IntentVerifier struct {
	chainID int64
	guard   domain.ReplayGuard
	maxTTL  time.Duration
	nowFn   func() time.Time
}

// NewIntentVerifier creates a verifier for chainID. Nonces are remembered
// for maxTTL; deadlines further out than maxTTL are rejected so a nonce can
// never outlive its replay record.
func NewIntentVerifier(chainID int64, guard domain.ReplayGuard, maxTTL time.Duration) *IntentVerifier {
	return &IntentVerifier{chainID: chainID, guard: guard, maxTTL: maxTTL, nowFn: time.Now}
}

// ChainID returns the chain id of the signing domain.
func (v *IntentVerifier) ChainID() int64 { return v.chainID }

// Verify checks sig over in and consumes its nonce.
func (v *IntentVerifier) Verify(ctx context.Context, in Intent, sig string) error {
	now := v.nowFn()
	deadline := time.Unix(in.Deadline, 0)
	if !now.Before(deadline) {
		return fmt.Errorf("crypto: intent %s %s: %w", in.Action, in.AssetID, domain.ErrIntentExpired)
	}
	if deadline.Sub(now) > v.maxTTL {
		return fmt.Errorf("crypto: intent %s %s: deadline beyond %s: %w", in.Action, in.AssetID, v.maxTTL, domain.ErrIntentExpired)
	}
	signer, err := RecoverIntentSigner(v.chainID, in, sig)
	if err != nil {
		return err
	}
	if signer != in.Actor {
		return fmt.Errorf("crypto: intent signed by %s, actor %s: %w", signer.Hex(), in.Actor.Hex(), domain.ErrInvalidSignature)
	}
	if v.guard == nil {
		return nil
	}
	if err := v.guard.Remember(ctx, nonceKey(in.Actor, in.Nonce), v.maxTTL); err != nil {
		return fmt.Errorf("crypto: intent nonce %d: %w", in.Nonce, err)
	}
	return nil
}

func nonceKey(actor common.Address, nonce uint64) string {
	return actor.Hex() + ":" + strconv.FormatUint(nonce, 10)
}
