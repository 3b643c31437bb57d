package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// DefaultRecvWindowMS is the venue-enforced maximum delta between the signed
// timestamp and the server clock. Ten minutes, matching the upstream system.
const DefaultRecvWindowMS = 600000

// Auth signs Bybit v5 requests for one account.
//
// The canonical string is timestamp ∥ apiKey ∥ recvWindow ∥ payload, hashed
// with HMAC-SHA256 under the account secret and hex-encoded lowercase. For
// POST the payload is the compact request body (the exact bytes sent); for
// GET it is the raw query string.
type Auth struct {
	apiKey       string
	apiSecret    string
	recvWindowMS int64
}

// NewAuth creates a signer for one account's key pair.
func NewAuth(apiKey, apiSecret string, recvWindowMS int64) *Auth {
	if recvWindowMS <= 0 {
		recvWindowMS = DefaultRecvWindowMS
	}
	return &Auth{apiKey: apiKey, apiSecret: apiSecret, recvWindowMS: recvWindowMS}
}

// Sign computes the hex-lowercase HMAC-SHA256 signature for a request.
func (a *Auth) Sign(timestampMS int64, payload string) string {
	msg := strconv.FormatInt(timestampMS, 10) + a.apiKey + strconv.FormatInt(a.recvWindowMS, 10) + payload

	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers builds the X-BAPI header set for a request signed at timestampMS.
func (a *Auth) Headers(timestampMS int64, payload string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-SIGN":        a.Sign(timestampMS, payload),
		"X-BAPI-SIGN-TYPE":   "2",
		"X-BAPI-TIMESTAMP":   strconv.FormatInt(timestampMS, 10),
		"X-BAPI-RECV-WINDOW": strconv.FormatInt(a.recvWindowMS, 10),
	}
}

// RecvWindowMS returns the configured receive window in milliseconds.
func (a *Auth) RecvWindowMS() int64 {
	return a.recvWindowMS
}
