package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/apikey"
	"github.com/astronomiahub/hub/internal/ratelimit"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, ratelimit.Limit) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_LoginThreePerMinute(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	defer store.Close()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	obs := &countingObserver{}
	h := middleware.RateLimit(store, "login", middleware.ClientIP, obs, ratelimit.MustParse("3/minute"))(okHandler())

	post := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := range 3 {
		w := post("203.0.113.9:5000")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := post("203.0.113.9:6000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	assert.Equal(t, []string{"login"}, obs.limited)

	assert.Equal(t, http.StatusOK, post("198.51.100.1:5000").Code, "other clients have their own bucket")
}

func TestRateLimit_ScopesAreIndependent(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	defer store.Close()
	limit := ratelimit.MustParse("1/hour")

	a := middleware.RateLimit(store, "a", middleware.ClientIP, nil, limit)(okHandler())
	b := middleware.RateLimit(store, "b", middleware.ClientIP, nil, limit)(okHandler())

	serve := func(h http.Handler) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(a))
	assert.Equal(t, http.StatusOK, serve(b))
	assert.Equal(t, http.StatusTooManyRequests, serve(a))
}

func TestRateLimit_StoreFailureFailsOpen(t *testing.T) {
	t.Parallel()

	h := middleware.RateLimit(failingStore{}, "api", middleware.APIKeyOrIP, nil, ratelimit.MustParse("1/hour"))(okHandler())

	for range 3 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAPIKeyOrIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
	req.RemoteAddr = "192.0.2.4:1234"
	assert.Equal(t, "ip:192.0.2.4", middleware.APIKeyOrIP(req))

	req.Header.Set(apikey.HeaderName, "secret")
	assert.Equal(t, "key:"+apikey.Hash("secret"), middleware.APIKeyOrIP(req))
}

func TestClientIP_WithoutPort(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4"
	assert.Equal(t, "192.0.2.4", middleware.ClientIP(req))
}
