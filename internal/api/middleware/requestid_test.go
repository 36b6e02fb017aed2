package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/astronomiahub/hub/internal/api/middleware"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	t.Parallel()

	var captured, chiID string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = middleware.GetRequestID(r.Context())
		chiID = chimiddleware.GetReqID(r.Context())
	}))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(captured)
	assert.NoError(t, err, "generated request ID should be a valid UUID")
	assert.Equal(t, captured, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, captured, chiID)
}

func TestRequestID_UsesExistingHeader(t *testing.T) {
	t.Parallel()

	var captured string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "client-id")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, "client-id", captured)
	assert.Equal(t, "client-id", w.Header().Get(middleware.RequestIDHeader))
}

func TestRequestID_ReplacesOversizedHeader(t *testing.T) {
	t.Parallel()

	h := middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, strings.Repeat("x", 200))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	_, err := uuid.Parse(w.Header().Get(middleware.RequestIDHeader))
	assert.NoError(t, err)
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	t.Parallel()

	h := middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ids := make(map[string]bool)

	for range 10 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(middleware.RequestIDHeader)
		assert.False(t, ids[id], "request IDs should be unique")
		ids[id] = true
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Equal(t, "", middleware.GetRequestID(req.Context()))
}
