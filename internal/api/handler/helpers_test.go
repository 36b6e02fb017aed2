package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/token"
)

// --- Envelope decoding ---

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Error    *response.Error `json:"error"`
	Warnings []string        `json:"warnings"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decode(t, rec)
	require.Nil(t, env.Error, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// --- Request helpers ---

func newRequest(method, target, body string, params map[string]string, identity *auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	ctx := req.Context()
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	if identity != nil {
		ctx = middleware.WithIdentity(ctx, identity)
	}
	return req.WithContext(ctx)
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- In-memory UserRepository ---

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[int64]*auth.User)}
}

func (m *memUsers) Create(_ context.Context, u *auth.User, p *auth.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrEmailTaken
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now().UTC()
	p.UserID = u.ID
	u.Profile = p
	u.Roles = []string{auth.RoleUser}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *memUsers) First(ctx context.Context) (*auth.User, error) {
	return m.GetByID(ctx, 1)
}

func (m *memUsers) update(id int64, fn func(u *auth.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) SetPassword(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *auth.User) { u.PasswordHash = hash })
}

func (m *memUsers) SetResetToken(_ context.Context, id int64, tok string, exp time.Time) error {
	return m.update(id, func(u *auth.User) {
		u.ResetToken = &tok
		u.ResetTokenExpiresAt = &exp
	})
}

func (m *memUsers) SetTOTPSecret(_ context.Context, id int64, secret string) error {
	return m.update(id, func(u *auth.User) { u.TOTPSecret = &secret })
}

func (m *memUsers) EnableTOTP(_ context.Context, id int64) error {
	return m.update(id, func(u *auth.User) { u.TOTPEnabled = true })
}

func (m *memUsers) AddRole(_ context.Context, id int64, role string) error {
	return m.update(id, func(u *auth.User) { u.Roles = append(u.Roles, role) })
}

func (m *memUsers) CountAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// --- In-memory token Repository ---

type memTokens struct {
	mu     sync.Mutex
	nextID int64
	rows   []*token.Token
}

func (m *memTokens) Create(_ context.Context, t *token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now()
	cp := *t
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memTokens) find(pred func(t *token.Token) bool) []token.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []token.Token{}
	for _, t := range m.rows {
		if pred(t) {
			out = append(out, *t)
		}
	}
	return out
}

func (m *memTokens) GetByID(_ context.Context, id int64) (*token.Token, error) {
	found := m.find(func(t *token.Token) bool { return t.ID == id })
	if len(found) == 0 {
		return nil, token.ErrTokenNotFound
	}
	return &found[0], nil
}

func (m *memTokens) GetByJTI(_ context.Context, jti string) (*token.Token, error) {
	found := m.find(func(t *token.Token) bool { return t.JTI == jti })
	if len(found) == 0 {
		return nil, token.ErrTokenNotFound
	}
	return &found[0], nil
}

func (m *memTokens) ListActiveByUser(_ context.Context, userID int64) ([]token.Token, error) {
	now := time.Now()
	out := m.find(func(t *token.Token) bool { return t.UserID == userID && t.Usable(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memTokens) ActiveAccessByParent(_ context.Context, parent string) ([]token.Token, error) {
	return m.find(func(t *token.Token) bool {
		return t.Type == token.TypeAccess && t.IsActive && t.ParentJTI != nil && *t.ParentJTI == parent
	}), nil
}

func (m *memTokens) deactivate(pred func(t *token.Token) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.rows {
		if t.IsActive && pred(t) {
			t.IsActive = false
			n++
		}
	}
	return n
}

func (m *memTokens) DeactivateAccessByParent(_ context.Context, parent string) (int64, error) {
	return m.deactivate(func(t *token.Token) bool {
		return t.Type == token.TypeAccess && t.ParentJTI != nil && *t.ParentJTI == parent
	}), nil
}

func (m *memTokens) DeactivateFamily(_ context.Context, jti string) (int64, error) {
	return m.deactivate(func(t *token.Token) bool {
		return t.JTI == jti || (t.ParentJTI != nil && *t.ParentJTI == jti)
	}), nil
}

func (m *memTokens) DeactivateAllForUser(_ context.Context, userID int64) (int64, error) {
	return m.deactivate(func(t *token.Token) bool { return t.UserID == userID }), nil
}

func (m *memTokens) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	return m.deactivate(func(t *token.Token) bool { return t.Expired(now) }), nil
}
