package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/prn-tf/alexander-storage/internal/metrics"
)

type contextKey string

const principalKey contextKey = "auth_principal"

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal attached by Middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Middleware extracts and verifies the Authorization: Bearer header on every
// request, rejecting unauthenticated ones before next ever runs. m may be
// nil; when set, every attempt is recorded against AuthAttemptsTotal/
// AuthFailuresTotal.
func Middleware(authorizer *Authorizer, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				recordAttempt(m, false, "missing_token")
				writeUnauthorized(w, ErrMissingToken)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				recordAttempt(m, false, "malformed_header")
				writeUnauthorized(w, ErrInvalidToken)
				return
			}

			principal, err := authorizer.Authenticate(r.Context(), raw)
			if err != nil {
				recordAttempt(m, false, "invalid_token")
				writeUnauthorized(w, err)
				return
			}

			recordAttempt(m, true, "")
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func recordAttempt(m *metrics.Metrics, success bool, reason string) {
	if m == nil {
		return
	}
	m.RecordAuthAttempt("bearer", success, reason)
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + err.Error() + `"}`))
}
