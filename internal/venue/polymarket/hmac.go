package polymarket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the derived CLOB API credentials used for L2 request
// authentication.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// L2Headers returns the HTTP headers for an L2 (CLOB) API request. The
// secret is base64-decoded before use as the HMAC key.
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// An undecodable secret yields an obviously-wrong signature rather
		// than a panic.
		secretBytes = []byte(h.Secret)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}
