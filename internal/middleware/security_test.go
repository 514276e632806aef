package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxr0ssi/llm-router/internal/security"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newStack(t *testing.T, config *SecurityConfig) *SecurityStack {
	t.Helper()
	stack, err := NewSecurityStack(config, testLogger())
	require.NoError(t, err)
	t.Cleanup(stack.Stop)
	return stack
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityStack_EmptyConfigStillSetsHeaders(t *testing.T) {
	stack := newStack(t, &SecurityConfig{AllowedOrigins: []string{"*"}})
	handler := stack.Handler()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestSecurityStack_CORS(t *testing.T) {
	stack := newStack(t, &SecurityConfig{AllowedOrigins: []string{"https://app.example.com"}})
	handler := stack.Handler()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityStack_PreflightShortCircuits(t *testing.T) {
	stack := newStack(t, &SecurityConfig{
		AllowedOrigins: []string{"*"},
		Auth:           &security.Config{RequireAuth: true, APIKeys: []string{"sk-key"}},
	})
	reached := false
	handler := stack.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, reached, "preflight must not reach the handler or auth")
}

func TestSecurityStack_AuthBeforeRateLimit(t *testing.T) {
	stack := newStack(t, &SecurityConfig{
		AllowedOrigins: []string{"*"},
		Auth:           &security.Config{RequireAuth: true, APIKeys: []string{"sk-valid-key-123"}},
		RateLimit:      &security.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 1},
	})
	handler := stack.Handler()(okHandler())

	// Unauthenticated request is rejected before the limiter runs.
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))

	// Authenticated request passes both layers and gets limit headers.
	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("X-API-Key", "sk-valid-key-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
}

func TestSecurityStack_DisabledRateLimitNotBuilt(t *testing.T) {
	stack := newStack(t, &SecurityConfig{
		RateLimit: &security.RateLimitConfig{Enabled: false, RequestsPerMinute: 1},
	})
	handler := stack.Handler()(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
