package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the RFQ relay.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret
	Passphrase string // API passphrase
}

// SessionHeaders returns the HTTP headers that authenticate a relay session
// handshake. The signature is HMAC-SHA256(secret, timestamp+method+path)
// encoded as base64.
//
// Returned header keys:
//   - RFQ-API-KEY
//   - RFQ-TIMESTAMP
//   - RFQ-PASSPHRASE
//   - RFQ-SIGNATURE
func (h *HMACAuth) SessionHeaders(method, path string) map[string]string {
	return h.SessionHeadersAt(method, path, time.Now().Unix())
}

// SessionHeadersAt is like SessionHeaders but lets the caller supply the
// Unix timestamp (useful for deterministic testing).
func (h *HMACAuth) SessionHeadersAt(method, path string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"RFQ-API-KEY":    h.Key,
		"RFQ-TIMESTAMP":  ts,
		"RFQ-PASSPHRASE": h.Passphrase,
		"RFQ-SIGNATURE":  sig,
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
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
