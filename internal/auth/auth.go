// Package auth authenticates ingest and release-download requests against
// opaque API tokens, following the same Bearer-header extraction idiom as
// the rest of the corpus's token-based transports.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/alexander-storage/internal/catalog"
)

// ErrMissingToken marks a request with no Authorization header.
var ErrMissingToken = errors.New("auth: missing bearer token")

// ErrInvalidToken marks a token that doesn't parse, doesn't match a known
// token id, fails secret verification, or is revoked/expired.
var ErrInvalidToken = errors.New("auth: invalid token")

// Principal identifies the repository an authenticated request is allowed
// to act on.
type Principal struct {
	TokenID string
	RepoID  string
}

// TokenStore is the subset of the catalog token repository Authorizer
// needs.
type TokenStore interface {
	GetActiveByTokenID(ctx context.Context, tokenID string) (*catalog.Token, error)
	UpdateLastUsed(ctx context.Context, id int64) error
}

// Authorizer verifies opaque bearer tokens of the form "<token_id>.<secret>"
// against the catalog's token store. The secret half is never persisted in
// the clear: catalog.Token.EncryptedSecret holds its bcrypt hash.
type Authorizer struct {
	tokens TokenStore
}

// NewAuthorizer constructs an Authorizer backed by tokens.
func NewAuthorizer(tokens TokenStore) *Authorizer {
	return &Authorizer{tokens: tokens}
}

// Authenticate verifies raw (the full bearer credential, already stripped
// of the "Bearer " prefix) and returns the principal it identifies.
func (a *Authorizer) Authenticate(ctx context.Context, raw string) (Principal, error) {
	tokenID, secret, ok := splitCredential(raw)
	if !ok {
		return Principal{}, ErrInvalidToken
	}

	rec, err := a.tokens.GetActiveByTokenID(ctx, tokenID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(time.Now().UTC()) {
		return Principal{}, ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(rec.EncryptedSecret, []byte(secret)); err != nil {
		return Principal{}, ErrInvalidToken
	}

	_ = a.tokens.UpdateLastUsed(ctx, rec.ID)
	return Principal{TokenID: tokenID, RepoID: rec.RepoID}, nil
}

// HashSecret derives the value stored in catalog.Token.EncryptedSecret from
// a newly minted token's secret half.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// splitCredential splits "tokenID.secret" on the first '.'.
func splitCredential(raw string) (tokenID, secret string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			return raw[:i], raw[i+1:], i > 0 && i < len(raw)-1
		}
	}
	return "", "", false
}
