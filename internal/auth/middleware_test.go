package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	authorizer := NewAuthorizer(newFakeTokenStore())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not run without a valid token")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ingest/sessions", nil)
	Middleware(authorizer, nil)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAttachesPrincipalOnSuccess(t *testing.T) {
	store := newFakeTokenStore()
	mustToken(t, store, 3, "tok_abc", "s3cret", "repo-1")
	authorizer := NewAuthorizer(store)

	var got Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ingest/sessions", nil)
	req.Header.Set("Authorization", "Bearer tok_abc.s3cret")
	Middleware(authorizer, nil)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Principal{TokenID: "tok_abc", RepoID: "repo-1"}, got)
}

func TestMiddlewareRejectsNonBearerScheme(t *testing.T) {
	authorizer := NewAuthorizer(newFakeTokenStore())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not run for a malformed auth scheme")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ingest/sessions", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	Middleware(authorizer, nil)(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
