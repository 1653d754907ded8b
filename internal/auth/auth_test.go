package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/catalog"
)

type fakeTokenStore struct {
	tokens      map[string]*catalog.Token
	lastUsedIDs []int64
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]*catalog.Token{}}
}

func (s *fakeTokenStore) GetActiveByTokenID(ctx context.Context, tokenID string) (*catalog.Token, error) {
	rec, ok := s.tokens[tokenID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return rec, nil
}

func (s *fakeTokenStore) UpdateLastUsed(ctx context.Context, id int64) error {
	s.lastUsedIDs = append(s.lastUsedIDs, id)
	return nil
}

func mustToken(t *testing.T, store *fakeTokenStore, id int64, tokenID, secret, repoID string) {
	t.Helper()
	hashed, err := HashSecret(secret)
	require.NoError(t, err)
	store.tokens[tokenID] = &catalog.Token{
		ID:              id,
		RepoID:          repoID,
		TokenID:         tokenID,
		EncryptedSecret: hashed,
		Status:          catalog.TokenStatusActive,
	}
}

func TestAuthenticateSucceedsWithMatchingSecret(t *testing.T) {
	store := newFakeTokenStore()
	mustToken(t, store, 7, "tok_abc", "s3cret", "repo-1")
	authorizer := NewAuthorizer(store)

	p, err := authorizer.Authenticate(context.Background(), "tok_abc.s3cret")
	require.NoError(t, err)
	assert.Equal(t, Principal{TokenID: "tok_abc", RepoID: "repo-1"}, p)
	assert.Equal(t, []int64{7}, store.lastUsedIDs)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	store := newFakeTokenStore()
	mustToken(t, store, 1, "tok_abc", "s3cret", "repo-1")
	authorizer := NewAuthorizer(store)

	_, err := authorizer.Authenticate(context.Background(), "tok_abc.wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	authorizer := NewAuthorizer(newFakeTokenStore())

	_, err := authorizer.Authenticate(context.Background(), "tok_missing.secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsMalformedCredential(t *testing.T) {
	authorizer := NewAuthorizer(newFakeTokenStore())

	_, err := authorizer.Authenticate(context.Background(), "no-dot-here")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	store := newFakeTokenStore()
	mustToken(t, store, 2, "tok_abc", "s3cret", "repo-1")
	expired := time.Now().Add(-time.Hour)
	store.tokens["tok_abc"].ExpiresAt = &expired
	authorizer := NewAuthorizer(store)

	_, err := authorizer.Authenticate(context.Background(), "tok_abc.s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
