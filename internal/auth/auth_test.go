package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/rewardledger/internal/domain"
)

func TestHashPassword(t *testing.T) {
	first, err := HashPassword("hunter22")
	require.NoError(t, err)
	second, err := HashPassword("hunter22")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "salt must differ between calls")
	assert.True(t, VerifyPassword("hunter22", first))
	assert.True(t, VerifyPassword("hunter22", second))
	assert.False(t, VerifyPassword("hunter23", first))
	assert.False(t, NeedsRehash(first))
}

func TestVerifyPasswordLegacyPlaintext(t *testing.T) {
	assert.True(t, NeedsRehash("letmein"))
	assert.True(t, VerifyPassword("letmein", "letmein"))
	assert.False(t, VerifyPassword("letmeout", "letmein"))
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "rewardledger", 24*time.Hour)
	token, err := tm.Issue(domain.Principal{UserID: 7, Username: "ayesha", IsAdmin: true})
	require.NoError(t, err)

	p, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Principal{UserID: 7, Username: "ayesha", IsAdmin: true}, p)
}

func TestTokenRejections(t *testing.T) {
	tm := NewTokenManager("secret", "rewardledger", time.Hour)
	valid, err := tm.Issue(domain.Principal{UserID: 7, Username: "ayesha"})
	require.NoError(t, err)

	other := NewTokenManager("other-secret", "rewardledger", time.Hour)
	forged, err := other.Issue(domain.Principal{UserID: 7, Username: "ayesha", IsAdmin: true})
	require.NoError(t, err)

	expiredTM := NewTokenManager("secret", "rewardledger", time.Hour)
	expiredTM.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredTM.Issue(domain.Principal{UserID: 7})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 7})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"bad signature": forged,
		"expired":       expired,
		"malformed":     "not.a.token",
		"empty":         "",
		"alg none":      unsigned,
		"tampered":      valid[:len(valid)-2] + "xx",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tm.Verify(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestGuards(t *testing.T) {
	tm := NewTokenManager("secret", "rewardledger", time.Hour)
	userToken, err := tm.Issue(domain.Principal{UserID: 2, Username: "bilal"})
	require.NoError(t, err)
	adminToken, err := tm.Issue(domain.Principal{UserID: 1, Username: "root", IsAdmin: true})
	require.NoError(t, err)

	var seen domain.Principal
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		guard  func(http.Handler) http.Handler
		header string
		want   int
		code   string
	}{
		{"no header", RequireAuthenticated(tm), "", http.StatusUnauthorized, "unauthorized"},
		{"wrong scheme", RequireAuthenticated(tm), "Basic " + userToken, http.StatusUnauthorized, "unauthorized"},
		{"garbage token", RequireAuthenticated(tm), "Bearer abc", http.StatusUnauthorized, "unauthorized"},
		{"user ok", RequireAuthenticated(tm), "Bearer " + userToken, http.StatusNoContent, ""},
		{"admin guard user", RequireAdmin(tm), "Bearer " + userToken, http.StatusForbidden, "forbidden"},
		{"admin guard admin", RequireAdmin(tm), "Bearer " + adminToken, http.StatusNoContent, ""},
		{"admin guard anonymous", RequireAdmin(tm), "", http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.guard(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.code != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&body))
				assert.Equal(t, tt.code, body["code"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
	assert.Equal(t, int64(1), seen.UserID)
	assert.True(t, seen.IsAdmin)
}
