package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// DeriveKey turns the configured project key (or legacy secret) into the
// HMAC signing key used for batch signatures.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Sign computes the hex HMAC-SHA256 digest of body under key. The digest is
// sent as X-Signature and must cover the exact request bytes.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
