// Package access implements the bearer tokens the HTTP API accepts: a
// base64url JSON claims document signed with HMAC-SHA256. The token
// carries the gamespace (tenant), the account, its scopes, and an
// expiry.
package access

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scopes the API checks per route.
const (
	ScopeMarket      = "market"
	ScopeUpdateItem  = "market_update_item"
	ScopePostOrder   = "market_post_order"
	ScopeDeleteOrder = "market_delete_order"
	ScopeAdmin       = "market_admin"
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// Token is a parsed, verified set of claims.
type Token struct {
	Gamespace int64    `json:"gamespace"`
	Account   int64    `json:"account"`
	Scopes    []string `json:"scopes"`
	Exp       int64    `json:"exp"`
}

// HasScope reports whether the token carries the scope.
func (t *Token) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasScopes reports whether the token carries every given scope.
func (t *Token) HasScopes(scopes ...string) bool {
	for _, s := range scopes {
		if !t.HasScope(s) {
			return false
		}
	}
	return true
}

// Signer mints and verifies tokens against one shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer. The secret must not be empty.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) sign(claims []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(claims)
	return mac.Sum(nil)
}

// Sign encodes and signs the claims.
func (s *Signer) Sign(t Token) (string, error) {
	claims, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(claims)
	sig := base64.RawURLEncoding.EncodeToString(s.sign(claims))
	return encoded + "." + sig, nil
}

// Verify parses the token, checks the signature, and checks expiry
// against now.
func (s *Signer) Verify(raw string, now time.Time) (*Token, error) {
	dot := strings.IndexByte(raw, '.')
	if dot < 0 {
		return nil, ErrMalformedToken
	}

	claims, err := base64.RawURLEncoding.DecodeString(raw[:dot])
	if err != nil {
		return nil, ErrMalformedToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(raw[dot+1:])
	if err != nil {
		return nil, ErrMalformedToken
	}

	if !hmac.Equal(sig, s.sign(claims)) {
		return nil, ErrBadSignature
	}

	var t Token
	if err := json.Unmarshal(claims, &t); err != nil {
		return nil, ErrMalformedToken
	}
	if t.Exp != 0 && now.Unix() >= t.Exp {
		return nil, ErrTokenExpired
	}
	return &t, nil
}

type contextKey struct{}

// WithToken attaches a verified token to the context.
func WithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the verified token, or nil.
func FromContext(ctx context.Context) *Token {
	t, _ := ctx.Value(contextKey{}).(*Token)
	return t
}
