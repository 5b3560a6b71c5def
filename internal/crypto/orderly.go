package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OrderlyAuth holds the credentials required for signed requests against the
// Orderly Network API (used by WooFi Pro). Requests are signed with the
// account's ed25519 key over timestamp+method+path+body.
type OrderlyAuth struct {
	AccountID string
	// OrderlyKey is the base58/base64-agnostic public key identifier the
	// venue issued, sent verbatim in the orderly-key header.
	OrderlyKey string
	secretKey  ed25519.PrivateKey
}

// NewOrderlyAuth builds an OrderlyAuth from the venue-issued secret. The
// secret is the base64url-encoded ed25519 seed, optionally prefixed with
// "ed25519:".
func NewOrderlyAuth(accountID, orderlyKey, secret string) (*OrderlyAuth, error) {
	seedB64 := strings.TrimPrefix(secret, "ed25519:")
	seed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seedB64, "="))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode orderly secret: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: expected %d-byte ed25519 seed, got %d", ed25519.SeedSize, len(seed))
	}
	return &OrderlyAuth{
		AccountID:  accountID,
		OrderlyKey: orderlyKey,
		secretKey:  ed25519.NewKeyFromSeed(seed),
	}, nil
}

// Headers returns the signed HTTP headers for an Orderly API request.
//
// Returned header keys:
//   - orderly-account-id
//   - orderly-key
//   - orderly-timestamp
//   - orderly-signature
func (a *OrderlyAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (a *OrderlyAuth) HeadersAt(method, path, body string, tsMillis int64) map[string]string {
	ts := strconv.FormatInt(tsMillis, 10)

	message := ts + strings.ToUpper(method) + path + body
	sig := ed25519.Sign(a.secretKey, []byte(message))

	return map[string]string{
		"orderly-account-id": a.AccountID,
		"orderly-key":        a.OrderlyKey,
		"orderly-timestamp":  ts,
		"orderly-signature":  base64.RawURLEncoding.EncodeToString(sig),
	}
}
