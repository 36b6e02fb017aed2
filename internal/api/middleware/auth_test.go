package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/token"
)

type stubTokens struct {
	valid map[string]*token.Token
	err   error
}

func (s *stubTokens) ValidateAccess(_ context.Context, raw string) (*token.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.valid[raw]
	if !ok {
		return nil, token.ErrTokenInvalid
	}
	return t, nil
}

type stubUsers map[int64]*auth.User

func (s stubUsers) GetUser(_ context.Context, id int64) (*auth.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

func sessionFixture() (*stubTokens, stubUsers) {
	tokens := &stubTokens{valid: map[string]*token.Token{
		"good":   {UserID: 7, JTI: "jti-7"},
		"ghost":  {UserID: 99, JTI: "jti-99"},
		"curate": {UserID: 8, JTI: "jti-8"},
	}}
	users := stubUsers{
		7: {ID: 7, Email: "vera@example.org", Roles: []string{auth.RoleUser}},
		8: {ID: 8, Email: "annie@example.org", Roles: []string{auth.RoleUser, auth.RoleCurator}},
	}
	return tokens, users
}

func captureIdentity(mw func(http.Handler) http.Handler, req *http.Request) *auth.Identity {
	var got *auth.Identity
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = middleware.GetIdentity(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestSession_ResolvesIdentity(t *testing.T) {
	t.Parallel()

	tokens, users := sessionFixture()
	mw := middleware.Session(tokens, users)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		wantID int64
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, 7},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer good") }, 7},
		{"access cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: middleware.AccessCookie, Value: "curate"})
		}, 8},
		{"no credentials", func(*http.Request) {}, 0},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, 0},
		{"unknown user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer ghost") }, 0},
		{"api key scheme ignored", func(r *http.Request) { r.Header.Set("Authorization", "ApiKey good") }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			got := captureIdentity(mw, req)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.UserID)
		})
	}
}

func TestSession_CarriesJTIAndRoles(t *testing.T) {
	t.Parallel()

	tokens, users := sessionFixture()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer curate")

	got := captureIdentity(middleware.Session(tokens, users), req)

	require.NotNil(t, got)
	assert.Equal(t, "jti-8", got.JTI)
	assert.Equal(t, "annie@example.org", got.Email)
	assert.True(t, got.IsCurator())
}

func TestSession_StoreErrorContinuesAnonymously(t *testing.T) {
	t.Parallel()

	tokens := &stubTokens{err: errors.New("db down")}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	called := false
	h := middleware.Session(tokens, stubUsers{})(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, middleware.GetIdentity(r.Context()))
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, called)
}

func TestRequireUser(t *testing.T) {
	t.Parallel()

	h := middleware.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dataset/list", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication required")

	req := httptest.NewRequest(http.MethodGet, "/dataset/list", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), &auth.Identity{UserID: 1}))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireCurator(t *testing.T) {
	t.Parallel()

	h := middleware.RequireCurator(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name     string
		identity *auth.Identity
		want     int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"plain user", &auth.Identity{UserID: 1, Roles: []string{auth.RoleUser}}, http.StatusForbidden},
		{"curator", &auth.Identity{UserID: 2, Roles: []string{auth.RoleCurator}}, http.StatusNoContent},
		{"admin", &auth.Identity{UserID: 3, Roles: []string{auth.RoleAdmin}}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPut, "/dataset/1", nil)
			if tt.identity != nil {
				req = req.WithContext(middleware.WithIdentity(req.Context(), tt.identity))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
