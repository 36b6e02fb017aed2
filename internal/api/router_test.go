package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	specpkg "github.com/astronomiahub/hub/api"
	"github.com/astronomiahub/hub/internal/api"
	"github.com/astronomiahub/hub/internal/apikey"
	"github.com/astronomiahub/hub/internal/metrics"
)

// openAPISpec is the minimal structure needed to extract paths from the document.
type openAPISpec struct {
	Paths map[string]map[string]interface{} `json:"paths"`
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

// newTestRouter wires every route. Services are left unset except the key
// service, whose missing-key path never reaches its repository.
func newTestRouter(t *testing.T, opts ...func(*api.RouterDeps)) *chi.Mux {
	t.Helper()
	deps := api.RouterDeps{
		DBPinger:    stubPinger{},
		Version:     "test",
		OpenAPISpec: specpkg.OpenAPISpec,
		Domain:      "hub.test",
		CORSOrigins: []string{"https://portal.example.org"},
		Keys:        apikey.NewService(nil),
		Metrics:     metrics.New(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router, err := api.NewRouter(deps)
	require.NoError(t, err)
	return router
}

func TestOpenAPISpec_RoutesCoverAllPaths(t *testing.T) {
	t.Parallel()

	specJSON, err := yaml.YAMLToJSON(specpkg.OpenAPISpec)
	require.NoError(t, err, "embedded document must convert to JSON")

	var spec openAPISpec
	require.NoError(t, json.Unmarshal(specJSON, &spec))

	specRoutes := extractSpecRoutes(t, spec)
	require.NotEmpty(t, specRoutes)

	chiRoutes := extractChiRoutes(t, newTestRouter(t))
	require.NotEmpty(t, chiRoutes)

	for _, sr := range specRoutes {
		t.Run(fmt.Sprintf("spec_%s_%s_has_Chi_route", sr.method, sr.path), func(t *testing.T) {
			assert.Contains(t, chiRoutes, sr, "documented route %s %s not found in Chi router", sr.method, sr.path)
		})
	}

	for _, cr := range chiRoutes {
		t.Run(fmt.Sprintf("Chi_%s_%s_has_spec_path", cr.method, cr.path), func(t *testing.T) {
			assert.Contains(t, specRoutes, cr, "Chi route %s %s not documented", cr.method, cr.path)
		})
	}
}

func TestRouter_AccessControl(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{name: "health is public", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "metrics are exposed", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "openapi document", method: http.MethodGet, path: "/openapi.json", wantStatus: http.StatusOK},
		{name: "own listing requires a session", method: http.MethodGet, path: "/dataset/list", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "api keys require a session", method: http.MethodGet, path: "/api-keys", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "dataset edit requires a session", method: http.MethodPut, path: "/dataset/1", wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "public api requires a key", method: http.MethodGet, path: "/api/datasets", wantStatus: http.StatusUnauthorized, wantCode: "MISSING_API_KEY"},
		{name: "stats require a key", method: http.MethodGet, path: "/api/stats", wantStatus: http.StatusUnauthorized, wantCode: "MISSING_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			if tt.wantCode == "" {
				return
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestRouter_LoginIsRateLimited(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	login := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`))
		req.RemoteAddr = "203.0.113.9:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusBadRequest, login().Code, "attempt %d", i+1)
	}
	rec := login()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRouter_LoginLimitIgnoresForwardedFor(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	var codes []int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`))
		req.RemoteAddr = "203.0.113.10:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{400, 400, 400, 429, 429, 429}, codes)
}

func TestRouter_TrustedProxyUsesForwardedFor(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, func(d *api.RouterDeps) { d.TrustProxy = true })
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`))
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "client %d", i+1)
	}
}

func TestRouter_APIPreflight(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/datasets", nil)
	req.Header.Set("Origin", "https://portal.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", apikey.HeaderName)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://portal.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

type route struct {
	method string
	path   string
}

func sortRoutes(routes []route) {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path == routes[j].path {
			return routes[i].method < routes[j].method
		}
		return routes[i].path < routes[j].path
	})
}

func extractSpecRoutes(t *testing.T, spec openAPISpec) []route {
	t.Helper()
	var routes []route
	for path, methods := range spec.Paths {
		for method := range methods {
			routes = append(routes, route{method: strings.ToUpper(method), path: path})
		}
	}
	sortRoutes(routes)
	return routes
}

func extractChiRoutes(t *testing.T, r *chi.Mux) []route {
	t.Helper()
	var routes []route
	walkFunc := func(method, routePath string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Chi subroutes produce trailing slashes (e.g. /explore/) while the
		// document uses /explore.
		normalized := strings.TrimRight(routePath, "/")
		if normalized == "" {
			normalized = "/"
		}
		routes = append(routes, route{method: method, path: normalized})
		return nil
	}
	require.NoError(t, chi.Walk(r, walkFunc))
	sortRoutes(routes)
	return routes
}
