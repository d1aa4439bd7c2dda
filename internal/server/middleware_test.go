package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	env := newAPIEnv(t, Config{CORSOrigin: "https://example.org"})

	req := httptest.NewRequest(http.MethodOptions, "/images/analyze", nil)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareDefaultOrigin(t *testing.T) {
	env := newAPIEnv(t, Config{})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newAPIEnv(t, Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 1}})

	first := env.analyze(t, sceneJPEG(t))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := env.analyze(t, sceneJPEG(t))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "minute", second.Header().Get("X-RateLimit-Type"))
	assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	resp := decode[ErrorResponse](t, second)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "rate limit exceeded")

	// Reads are never limited.
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/images", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDailyQuotaHeaders(t *testing.T) {
	env := newAPIEnv(t, Config{RateLimit: RateLimitConfig{Enabled: true, MaxRequestsPerDay: 1}})

	require.Equal(t, http.StatusOK, env.analyze(t, sceneJPEG(t)).Code)

	rec := env.analyze(t, sceneJPEG(t))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "requests", rec.Header().Get("X-Quota-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-Quota-Used"))
	assert.NotEmpty(t, rec.Header().Get("X-Quota-Resets"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 203.0.113.8 "}, "10.0.0.2:1234", "203.0.113.8"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.9", "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
