package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/punchamoorthee/rewardledger/internal/domain"
)

type principalKey struct{}

// WithPrincipal stores the authenticated caller on the context.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by RequireAuthenticated or RequireAdmin.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// RequireAuthenticated rejects requests without a valid bearer token with 401.
func RequireAuthenticated(tm *TokenManager) func(http.Handler) http.Handler {
	return guard(tm, false)
}

// RequireAdmin additionally rejects non-admin principals with 403.
func RequireAdmin(tm *TokenManager) func(http.Handler) http.Handler {
	return guard(tm, true)
}

func guard(tm *TokenManager, admin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				deny(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			p, err := tm.Verify(raw)
			if err != nil {
				deny(w, http.StatusUnauthorized, domain.Errorf(domain.KindUnauthorized, "invalid or expired token"))
				return
			}
			if admin && !p.IsAdmin {
				deny(w, http.StatusForbidden, domain.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func deny(w http.ResponseWriter, status int, err *domain.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": string(err.Kind), "message": err.Message})
}
