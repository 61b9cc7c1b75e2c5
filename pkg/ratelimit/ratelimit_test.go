package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type mockLimiterStore struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Allowed(t *testing.T) {
	store := &mockLimiterStore{allowed: true}
	l := NewTestLimiter(store, 15*time.Minute)

	req := httptest.NewRequest("GET", "/api/pricing", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	w := httptest.NewRecorder()
	l.Middleware(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ratelimit:client:10.0.0.7"}, store.keys)
}

func TestMiddleware_Rejected(t *testing.T) {
	l := NewTestLimiter(&mockLimiterStore{allowed: false}, 15*time.Minute)

	w := httptest.NewRecorder()
	l.Middleware(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "too many requests")
}

func TestMiddleware_StoreErrorFailsClosed(t *testing.T) {
	l := NewTestLimiter(&mockLimiterStore{allowed: true, err: errors.New("redis down")}, time.Minute)

	w := httptest.NewRecorder()
	l.Middleware(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.10:8080"
	assert.Equal(t, "192.168.1.10", ClientIP(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", ClientIP(req))
}
