// Package crypto provides request signing and secret-key management for the
// MEXC spot API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SignatureParam is the query parameter that carries the signature. It is
// never part of the signed payload.
const SignatureParam = "signature"

// HMACAuth holds the credentials required for signed requests against the
// MEXC spot API.
type HMACAuth struct {
	APIKey    string
	SecretKey string
}

// CanonicalQuery serialises params by sorting keys byte-wise ascending and
// joining key=value pairs with '&'. Values are not URL-escaped; MEXC signs the
// raw pairs. A "signature" entry is skipped.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// SignRequest computes the hex-encoded HMAC-SHA256 of the canonical query
// string of params using secretKey.
func SignRequest(secretKey string, params map[string]string) string {
	return hmacSHA256Hex([]byte(secretKey), CanonicalQuery(params))
}

// SignedQueryAt stamps a copy of params with unixMilli as the timestamp,
// signs it and returns the query string with the signature last.
func (h *HMACAuth) SignedQueryAt(params map[string]string, unixMilli int64) string {
	stamped := make(map[string]string, len(params)+1)
	for k, v := range params {
		stamped[k] = v
	}
	stamped["timestamp"] = strconv.FormatInt(unixMilli, 10)

	q := CanonicalQuery(stamped)
	return q + "&" + SignatureParam + "=" + SignRequest(h.SecretKey, stamped)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.APIKey), redact(h.SecretKey))
}
