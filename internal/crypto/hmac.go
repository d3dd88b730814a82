package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// RequestAuth holds the credentials for HMAC-authenticated requests against
// the transfer gateway.
type RequestAuth struct {
	Key    string // API key identifying the caller
	Secret string // shared signing secret
}

// Headers returns the HTTP headers for a signed gateway request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-Klash-Api-Key
//   - X-Klash-Timestamp
//   - X-Klash-Signature
func (a *RequestAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *RequestAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(a.Secret), message)

	return map[string]string{
		"X-Klash-Api-Key":   a.Key,
		"X-Klash-Timestamp": ts,
		"X-Klash-Signature": sig,
	}
}

// Verify checks a signature produced by Headers against the same inputs.
// The gateway side uses this; it is exposed here so tests can round-trip.
func (a *RequestAuth) Verify(method, path, body, timestamp, signature string) bool {
	message := timestamp + method + path + body
	expected := hmacSHA256Base64([]byte(a.Secret), message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *RequestAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
