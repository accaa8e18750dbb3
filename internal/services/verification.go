package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// clock skew tolerated on the issue timestamp
const verificationSkew = time.Minute

// VerificationCodec issues and checks check-in codes of the form
// base64(orderID:issuedAtMillis:sig) where sig is the first 8 hex characters
// of HMAC-SHA256(orderID:issuedAtMillis).
type VerificationCodec struct {
	secret []byte
	maxAge time.Duration
}

func NewVerificationCodec(secret string, maxAge time.Duration) *VerificationCodec {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &VerificationCodec{secret: []byte(secret), maxAge: maxAge}
}

func (c *VerificationCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))[:8]
}

func (c *VerificationCodec) Generate(orderID uint, issuedAt time.Time) string {
	payload := fmt.Sprintf("%d:%d", orderID, issuedAt.UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(payload + ":" + c.sign(payload)))
}

// Parse authenticates code and returns the order it was issued for.
func (c *VerificationCodec) Parse(code string, now time.Time) (uint, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return 0, invalid("verification code is malformed")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return 0, invalid("verification code is malformed")
	}
	orderID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, invalid("verification code is malformed")
	}
	issuedMillis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, invalid("verification code is malformed")
	}

	expected := c.sign(parts[0] + ":" + parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return 0, invalid("verification code signature mismatch")
	}

	issuedAt := time.UnixMilli(issuedMillis)
	if issuedAt.After(now.Add(verificationSkew)) {
		return 0, invalid("verification code issued in the future")
	}
	if now.Sub(issuedAt) > c.maxAge {
		return 0, invalid("verification code expired")
	}
	return uint(orderID), nil
}
