package token_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/token"
)

// --- In-memory Repository ---

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*token.Token
}

func (m *memRepo) Create(_ context.Context, t *token.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now()
	cp := *t
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memRepo) find(pred func(t *token.Token) bool) []token.Token {
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

func (m *memRepo) GetByID(_ context.Context, id int64) (*token.Token, error) {
	found := m.find(func(t *token.Token) bool { return t.ID == id })
	if len(found) == 0 {
		return nil, token.ErrTokenNotFound
	}
	return &found[0], nil
}

func (m *memRepo) GetByJTI(_ context.Context, jti string) (*token.Token, error) {
	found := m.find(func(t *token.Token) bool { return t.JTI == jti })
	if len(found) == 0 {
		return nil, token.ErrTokenNotFound
	}
	return &found[0], nil
}

func (m *memRepo) ListActiveByUser(_ context.Context, userID int64) ([]token.Token, error) {
	now := time.Now()
	out := m.find(func(t *token.Token) bool { return t.UserID == userID && t.Usable(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) ActiveAccessByParent(_ context.Context, parent string) ([]token.Token, error) {
	return m.find(func(t *token.Token) bool {
		return t.Type == token.TypeAccess && t.IsActive && t.ParentJTI != nil && *t.ParentJTI == parent
	}), nil
}

func (m *memRepo) deactivate(pred func(t *token.Token) bool) int64 {
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

func (m *memRepo) DeactivateAccessByParent(_ context.Context, parent string) (int64, error) {
	return m.deactivate(func(t *token.Token) bool {
		return t.Type == token.TypeAccess && t.ParentJTI != nil && *t.ParentJTI == parent
	}), nil
}

func (m *memRepo) DeactivateFamily(_ context.Context, jti string) (int64, error) {
	return m.deactivate(func(t *token.Token) bool {
		return t.JTI == jti || (t.ParentJTI != nil && *t.ParentJTI == jti)
	}), nil
}

func (m *memRepo) DeactivateAllForUser(_ context.Context, userID int64) (int64, error) {
	return m.deactivate(func(t *token.Token) bool { return t.UserID == userID }), nil
}

func (m *memRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	active := map[string]bool{}
	for _, t := range m.rows {
		if t.Type == token.TypeRefresh && t.Usable(now) {
			active[t.JTI] = true
		}
	}
	m.mu.Unlock()
	return m.deactivate(func(t *token.Token) bool {
		if t.Expired(now) {
			return true
		}
		return t.Type == token.TypeAccess && (t.ParentJTI == nil || !active[*t.ParentJTI])
	}), nil
}

// assertFamilyInvariant checks that every active access token has an active refresh parent.
func (m *memRepo) assertFamilyInvariant(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	byJTI := map[string]*token.Token{}
	for _, tok := range m.rows {
		byJTI[tok.JTI] = tok
	}
	for _, tok := range m.rows {
		if tok.Type != token.TypeAccess || !tok.IsActive {
			continue
		}
		require.NotNil(t, tok.ParentJTI)
		parent := byJTI[*tok.ParentJTI]
		require.NotNil(t, parent)
		assert.True(t, parent.IsActive, "active access token %s has inactive parent", tok.JTI)
	}
}

// --- Helpers ---

var info = token.ClientInfo{Device: "Firefox 128 on Linux", Location: token.LocalNetwork}

func newService() (*token.Service, *memRepo) {
	repo := &memRepo{}
	return token.NewService(repo, []byte("token-secret"), 15*time.Minute, 24*time.Hour), repo
}

// --- Tests ---

func TestIssuePair_LinksAccessToRefresh(t *testing.T) {
	t.Parallel()

	svc, repo := newService()
	pair, err := svc.IssuePair(context.Background(), 7, info)
	require.NoError(t, err)

	assert.Equal(t, token.TypeRefresh, pair.Refresh.Type)
	assert.Nil(t, pair.Refresh.ParentJTI)
	assert.Equal(t, token.TypeAccess, pair.Access.Type)
	require.NotNil(t, pair.Access.ParentJTI)
	assert.Equal(t, pair.Refresh.JTI, *pair.Access.ParentJTI)
	assert.Less(t, pair.Refresh.ID, pair.Access.ID, "refresh is minted first")
	assert.Equal(t, info.Device, pair.Access.DeviceInfo)

	got, err := svc.ValidateAccess(context.Background(), pair.Access.Code)
	require.NoError(t, err)
	assert.Equal(t, pair.Access.JTI, got.JTI)

	repo.assertFamilyInvariant(t)
}

func TestRefresh_RotatesAccessToken(t *testing.T) {
	t.Parallel()

	svc, repo := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	access, err := svc.Refresh(ctx, pair.Refresh.JTI, info)
	require.NoError(t, err)
	require.NotNil(t, access.ParentJTI)
	assert.Equal(t, pair.Refresh.JTI, *access.ParentJTI)
	assert.NotEqual(t, pair.Access.JTI, access.JTI)

	old, err := repo.GetByJTI(ctx, pair.Access.JTI)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	active, err := repo.ActiveAccessByParent(ctx, pair.Refresh.JTI)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, access.JTI, active[0].JTI)

	_, err = svc.ValidateAccess(ctx, pair.Access.Code)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestRefresh_RejectsAccessJTIAndRevokedRefresh(t *testing.T) {
	t.Parallel()

	svc, _ := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.Access.JTI, info)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	require.NoError(t, svc.Revoke(ctx, pair.Refresh.ID, 7))
	_, err = svc.Refresh(ctx, pair.Refresh.JTI, info)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	_, err = svc.Refresh(ctx, "no-such-jti", info)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}

func TestRevoke_RefreshRevokesChildren(t *testing.T) {
	t.Parallel()

	svc, repo := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.Refresh.JTI, info)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pair.Refresh.ID, 7))

	active, err := repo.ActiveAccessByParent(ctx, pair.Refresh.JTI)
	require.NoError(t, err)
	assert.Empty(t, active)
	repo.assertFamilyInvariant(t)
}

func TestRevoke_AccessRevokesParent(t *testing.T) {
	t.Parallel()

	svc, repo := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pair.Access.ID, 7))

	refresh, err := repo.GetByJTI(ctx, pair.Refresh.JTI)
	require.NoError(t, err)
	assert.False(t, refresh.IsActive)
	repo.assertFamilyInvariant(t)
}

func TestRevoke_IdempotentAndOwnerOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	err = svc.Revoke(ctx, pair.Refresh.ID, 8)
	assert.ErrorIs(t, err, token.ErrForbidden)

	require.NoError(t, svc.Revoke(ctx, pair.Refresh.ID, 7))
	require.NoError(t, svc.Revoke(ctx, pair.Refresh.ID, 7))

	sessions, err := svc.ActiveSessions(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	err = svc.Revoke(ctx, 9999, 7)
	assert.ErrorIs(t, err, token.ErrTokenNotFound)
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	svc, _ := newService()
	ctx := context.Background()
	_, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)
	_, err = svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)
	other, err := svc.IssuePair(ctx, 8, info)
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = svc.ValidateAccess(ctx, other.Access.Code)
	assert.NoError(t, err)
}

func TestValidateAccess_ExpiredParentRejects(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	svc := token.NewService(repo, []byte("token-secret"), time.Hour, time.Minute)
	ctx := context.Background()

	start := time.Now()
	svc.SetClock(func() time.Time { return start })
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return start.Add(2 * time.Minute) })
	_, err = svc.ValidateAccess(ctx, pair.Access.Code)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	repo.assertFamilyInvariant(t)
}

func TestValidate_WrongTypeOrSignature(t *testing.T) {
	t.Parallel()

	svc, _ := newService()
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, 7, info)
	require.NoError(t, err)

	_, err = svc.ValidateAccess(ctx, pair.Refresh.Code)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	_, err = svc.ValidateRefresh(ctx, pair.Refresh.Code)
	assert.NoError(t, err)

	other := token.NewService(&memRepo{}, []byte("different"), time.Hour, time.Hour)
	_, err = other.ValidateAccess(ctx, pair.Access.Code)
	assert.ErrorIs(t, err, token.ErrTokenInvalid)

	_, err = svc.ValidateAccess(ctx, "garbage")
	assert.ErrorIs(t, err, token.ErrTokenInvalid)
}
