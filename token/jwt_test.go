package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload, err := sonic.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func expiringToken(t *testing.T, exp time.Time) string {
	t.Helper()
	return makeToken(t, map[string]any{"exp": float64(exp.Unix()), "sub": "user-1"})
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	c, err := decodeClaims(expiringToken(t, exp))
	require.NoError(t, err)

	got, ok := c.expiry()
	require.True(t, ok)
	assert.WithinDuration(t, exp, got, time.Second)
	assert.Equal(t, "user-1", c.Subject)
}

func TestDecodeClaimsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not-a-token",
		"only.two",
		"a.!!!notbase64!!!.c",
	} {
		_, err := decodeClaims(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestExpiryAbsent(t *testing.T) {
	c, err := decodeClaims(makeToken(t, map[string]any{"sub": "user-1"}))
	require.NoError(t, err)

	_, ok := c.expiry()
	assert.False(t, ok)
}
