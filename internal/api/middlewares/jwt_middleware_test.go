package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWTMiddleware(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{"user_id claim", "Bearer " + sign(t, jwt.MapClaims{"user_id": "u1", "exp": exp}, secret), http.StatusNoContent, "u1"},
		{"sub claim", "Bearer " + sign(t, jwt.MapClaims{"sub": "svc", "exp": exp}, secret), http.StatusNoContent, "svc"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + sign(t, jwt.MapClaims{"user_id": "u1"}, "other"), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}, secret), http.StatusUnauthorized, ""},
		{"no identity", "Bearer " + sign(t, jwt.MapClaims{"exp": exp}, secret), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, user := serve(t, tt.header)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUser, user)
		})
	}
}
