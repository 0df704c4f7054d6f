package access

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)

	raw, err := signer.Sign(Token{
		Gamespace: 7,
		Account:   42,
		Scopes:    []string{ScopeMarket, ScopePostOrder},
		Exp:       now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	parsed, err := signer.Verify(raw, now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), parsed.Gamespace)
	assert.Equal(t, int64(42), parsed.Account)
	assert.True(t, parsed.HasScope(ScopeMarket))
	assert.True(t, parsed.HasScopes(ScopeMarket, ScopePostOrder))
	assert.False(t, parsed.HasScope(ScopeAdmin))
	assert.False(t, parsed.HasScopes(ScopeMarket, ScopeAdmin))
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)

	raw, err := signer.Sign(Token{Gamespace: 1, Account: 1, Exp: now.Unix()})
	require.NoError(t, err)

	_, err = signer.Verify(raw, now)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// A zero exp never expires.
	raw, err = signer.Sign(Token{Gamespace: 1, Account: 1})
	require.NoError(t, err)
	_, err = signer.Verify(raw, now.Add(1000*time.Hour))
	require.NoError(t, err)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)
	other, err := NewSigner("other-secret")
	require.NoError(t, err)

	raw, err := signer.Sign(Token{Gamespace: 1, Account: 1, Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = other.Verify(raw, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	// Tampered claims fail even with the right verifier.
	dot := strings.IndexByte(raw, '.')
	tampered := "eyJnYW1lc3BhY2UiOjk5fQ" + raw[dot:]
	_, err = signer.Verify(tampered, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	signer, err := NewSigner("test-secret")
	require.NoError(t, err)

	for _, raw := range []string{"", "no-dot", "bad base64!.sig", "eyJ9.bad sig!"} {
		_, err := signer.Verify(raw, now)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("")
	require.Error(t, err)
}
