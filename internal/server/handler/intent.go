package handler

import (
	"context"
	"strings"

	"github.com/alanyoungcy/carbonex/internal/crypto"
)

// IntentVerifier authenticates a signed intent and consumes its nonce.
type IntentVerifier interface {
	Verify(ctx context.Context, in crypto.Intent, sig string) error
}

// signedIntent is the request envelope of every state-changing endpoint.
type signedIntent struct {
	Intent    crypto.Intent `json:"intent"`
	Signature string        `json:"signature"`
}

// authorize checks that req carries an intent for action (and for assetID
// when the route names one) and that its signature is valid.
func authorize(ctx context.Context, v IntentVerifier, req signedIntent, action crypto.Action, assetID string) error {
	if req.Intent.Action != action {
		return badRequest("intent action %q, want %q", req.Intent.Action, action)
	}
	if strings.TrimSpace(req.Signature) == "" {
		return badRequest("signature required")
	}
	if assetID != "" && req.Intent.AssetID != assetID {
		return badRequest("intent asset %q does not match %q", req.Intent.AssetID, assetID)
	}
	return v.Verify(ctx, req.Intent, req.Signature)
}
