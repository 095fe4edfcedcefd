package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by requests to the custody and payment services.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderTimestamp = "X-Carbonex-Timestamp"
	HeaderSignature = "X-Carbonex-Signature"
)

// HMACAuth holds the credentials for HMAC-authenticated requests to an
// external ledger service.
type HMACAuth struct {
	Key    string // API key
	Secret string // shared secret, raw bytes
}

// Headers returns the authentication headers for a request. The signature
// is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Apply sets the authentication headers on req for the given body.
func (h *HMACAuth) Apply(req *http.Request, body []byte) {
	for k, v := range h.Headers(req.Method, req.URL.Path, string(body)) {
		req.Header.Set(k, v)
	}
}

// Verify checks the signature headers of a request against body, rejecting
// timestamps further than maxSkew from now.
func (h *HMACAuth) Verify(header http.Header, method, path string, body []byte, now time.Time, maxSkew time.Duration) bool {
	if !hmac.Equal([]byte(header.Get(HeaderAPIKey)), []byte(h.Key)) {
		return false
	}
	ts := header.Get(HeaderTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
		return false
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body))
	return hmac.Equal([]byte(header.Get(HeaderSignature)), []byte(want))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
