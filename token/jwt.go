package token

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// ExpiryMargin is the safety window subtracted from a token's remaining
// lifetime: a token expiring inside the margin counts as already expired.
const ExpiryMargin = 60 * time.Second

// claims is the subset of JWT payload fields the lifecycle manager reads.
// Signature verification is the server's job; the client only needs expiry.
type claims struct {
	ExpiresAt float64 `json:"exp"`
	Subject   string  `json:"sub,omitempty"`
	Issuer    string  `json:"iss,omitempty"`
}

// decodeClaims parses the payload segment of a signed token without
// verifying the signature.
func decodeClaims(raw string) (*claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token: expected 3 segments, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("malformed token payload: %w", err)
	}

	var c claims
	if err := sonic.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("malformed token claims: %w", err)
	}
	return &c, nil
}

// expiry returns the exp claim as a time, or false if absent.
func (c *claims) expiry() (time.Time, bool) {
	if c.ExpiresAt == 0 {
		return time.Time{}, false
	}
	sec := int64(c.ExpiresAt)
	nsec := int64((c.ExpiresAt - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec), true
}
