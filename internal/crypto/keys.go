// Package crypto generates license keys and one-time codes and hashes
// codes for storage. Everything here draws from crypto/rand; a
// predictable OTP is a direct account-takeover risk.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/squarepro/licensing/internal/core/domain"
)

const licenseKeyPrefix = "SPRO_"

// GenerateLicenseKey returns "SPRO_" plus 24 random bytes, URL-safe
// base64. Collisions are left to the database unique index plus the
// caller's retry loop.
func GenerateLicenseKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return licenseKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

var otpMax = big.NewInt(1000000)

// GenerateOTPCode returns a 6-digit decimal code sampled uniformly from
// [0, 1000000), zero-padded.
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Hasher derives verification hashes for one-time codes. Raw codes are
// never persisted; only the HMAC is.
type Hasher struct {
	secret []byte
}

// NewHasher builds a Hasher from the server OTP secret. Config loading
// rejects an empty secret before this is ever constructed.
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns hex(HMAC-SHA256(secret, email ":" code)). The email is
// normalized here so issue and verify can never disagree on casing.
func (h *Hasher) Hash(email, code string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(domain.NormalizeEmail(email)))
	mac.Write([]byte(":"))
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
