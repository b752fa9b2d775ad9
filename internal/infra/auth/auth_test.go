package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/cors-relay/internal/domain"
)

func signToken(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, ttl time.Duration) string {
	t.Helper()
	claims := domain.CustomClaims{
		UserID: "approver",
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestParseKeysAndVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub, err := ParseRSAPublicKey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	require.NoError(t, err)

	priv, err := ParseRSAPrivateKey(pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	require.NoError(t, err)

	v := NewBaseValidator(pub, "")
	claims, err := v.VerifyToken("Bearer " + signToken(t, priv, map[string]bool{domain.ScopeApprover: true}, time.Hour))
	require.NoError(t, err)
	assert.True(t, claims.HasScope(domain.ScopeApprover))

	_, err = v.VerifyToken(signToken(t, priv, nil, -time.Hour))
	assert.Error(t, err)

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
}

func TestMiddlewareScopes(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewBaseValidator(&key.PublicKey, "")

	h := NewMiddleware(v, domain.ScopeApprover, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "approver", claims.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  int
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer x") }, http.StatusUnauthorized},
		{"wrong scope", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, key, map[string]bool{domain.ScopeBridge: true}, time.Hour))
		}, http.StatusForbidden},
		{"header token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, key, map[string]bool{domain.ScopeApprover: true}, time.Hour))
		}, http.StatusNoContent},
		{"query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("access_token", signToken(t, key, map[string]bool{domain.ScopeApprover: true}, time.Hour))
			r.URL.RawQuery = q.Encode()
		}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/approver/pending", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
