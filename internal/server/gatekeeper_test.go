package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentityKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"canonical", "0f8fad5b-d9cb-469f-a165-70867728950e", true},
		{"uppercase", "0F8FAD5B-D9CB-469F-A165-70867728950E", true},
		{"empty", "", false},
		{"no hyphens", "0f8fad5bd9cb469fa16570867728950e", false},
		{"braces", "{0f8fad5b-d9cb-469f-a165-70867728950e}", false},
		{"urn", "urn:uuid:0f8fad5b-d9cb-469f-a165-70867728950e", false},
		{"garbage of the right length", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz", false},
		{"path traversal", "../../etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentityKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidIdentityKey)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth([]string{"alpha", "", "beta"})
	assert.True(t, auth.Enabled())
	assert.True(t, auth.Valid("alpha"))
	assert.True(t, auth.Valid("beta"))
	assert.False(t, auth.Valid("gamma"))
	assert.False(t, auth.Valid(""))

	assert.False(t, NewAPIKeyAuth(nil).Enabled())
	var nilAuth *APIKeyAuth
	assert.False(t, nilAuth.Valid("alpha"))
}

func TestAPIKeyAuth_Middleware(t *testing.T) {
	auth := NewAPIKeyAuth([]string{"secret-key"})
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"bearer", map[string]string{"Authorization": "Bearer secret-key"}, http.StatusNoContent},
		{"bearer lowercase scheme", map[string]string{"Authorization": "bearer secret-key"}, http.StatusNoContent},
		{"x-api-key", map[string]string{"X-API-Key": "secret-key"}, http.StatusNoContent},
		{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic scheme", map[string]string{"Authorization": "Basic secret-key"}, http.StatusUnauthorized},
		{"missing", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tools", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil, nil)
	now := time.Unix(1_700_000_000, 0)

	ok, _ := rl.Allow("10.0.0.1", now)
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1", now)
	assert.True(t, ok)

	ok, wait := rl.Allow("10.0.0.1", now)
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	// Other clients have their own bucket.
	ok, _ = rl.Allow("10.0.0.2", now)
	assert.True(t, ok)

	// A rejected request does not consume a token.
	ok, _ = rl.Allow("10.0.0.1", now.Add(time.Second))
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(5, 5, nil, nil)
	now := time.Unix(1_700_000_000, 0)
	rl.Allow("10.0.0.1", now)
	rl.Allow("10.0.0.2", now.Add(9*time.Minute))

	assert.Equal(t, 1, rl.Cleanup(now.Add(11*time.Minute)))
	assert.Equal(t, 1, rl.Cleanup(now.Add(20*time.Minute)))
	assert.Zero(t, rl.Cleanup(now.Add(30*time.Minute)))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil, nil)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"error":"rate_limited"`)
}
