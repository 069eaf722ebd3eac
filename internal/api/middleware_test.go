package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dispatcher",
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authProbe(t *testing.T, token string) int {
	t.Helper()
	handler := BearerAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tracking/stats", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestBearerAuth(t *testing.T) {
	t.Run("valid token passes", func(t *testing.T) {
		token := signToken(t, testSecret, time.Now().Add(time.Hour))
		assert.Equal(t, http.StatusNoContent, authProbe(t, token))
	})

	t.Run("missing token rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, authProbe(t, ""))
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, authProbe(t, "not-a-jwt"))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token := signToken(t, "other-secret", time.Now().Add(time.Hour))
		assert.Equal(t, http.StatusUnauthorized, authProbe(t, token))
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := signToken(t, testSecret, time.Now().Add(-time.Hour))
		assert.Equal(t, http.StatusUnauthorized, authProbe(t, token))
	})
}

func TestBearerTokenHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, ok = bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, ok := bearerToken(req)
	require.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)
}
