//nolint:testpackage // Tests drive the sweep with a fake clock.
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(10, 3)
	defer rl.Stop()

	for i := range 3 {
		assert.True(t, rl.Allow("c"), "request %d should pass", i+1)
	}
	assert.False(t, rl.Allow("c"))
	assert.True(t, rl.Allow("other"))
	assert.GreaterOrEqual(t, rl.RetryAfter("c"), 1)
}

func TestRateLimiter_SweepIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("old")

	now = now.Add(idleClientExpiry + time.Minute)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.sweep())
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Contains(t, rl.clients, "fresh")
	assert.NotContains(t, rl.clients, "old")
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "project header", headers: map[string]string{"X-Project-Id": "p1"}, remote: "10.0.0.1:80", want: "project:p1"},
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, remote: "10.0.0.1:80", want: "ip:203.0.113.5"},
		{name: "forwarded with port", headers: map[string]string{"X-Forwarded-For": "203.0.113.5:4000"}, remote: "10.0.0.1:80", want: "ip:203.0.113.5"},
		{name: "remote addr", remote: "192.168.1.9:5555", want: "ip:192.168.1.9"},
		{name: "bare remote", remote: "pipe", want: "ip:pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientID(req))
		})
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, send().Code)
	require.Equal(t, http.StatusOK, send().Code)

	rr := send()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate_limit_exceeded")
}
