package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestThrottleAllowsWithinBurst(t *testing.T) {
	rt := NewRequestThrottle(1, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, rt.Allow("key-1"))
	}
	assert.False(t, rt.Allow("key-1"))
}

func TestRequestThrottleKeysAreIndependent(t *testing.T) {
	rt := NewRequestThrottle(1, 1)
	require.True(t, rt.Allow("key-1"))
	require.False(t, rt.Allow("key-1"))
	assert.True(t, rt.Allow("key-2"), "a distinct key must not share key-1's budget")
}

func TestNilThrottleAlwaysAllows(t *testing.T) {
	var rt *RequestThrottle
	assert.True(t, rt.Allow("anything"))
}

func TestThrottleKeyPrefersAPIKeyHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/nodes", nil)
	r.Header.Set("Api-Key", "secret-123")
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "secret-123", throttleKey(r))
}

func TestThrottleKeyFallsBackToRemoteHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/nodes", nil)
	r.RemoteAddr = "203.0.113.9:54321"
	assert.Equal(t, "203.0.113.9", throttleKey(r))
}

func TestThrottleMiddlewareRejectsOverBudget(t *testing.T) {
	rt := NewRequestThrottle(1, 1)
	handler := throttleMiddleware(rt, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v2/nodes", nil)
	req.RemoteAddr = "203.0.113.9:1"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}
