package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/auth"
)

// --- In-memory UserRepository ---

type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*auth.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]*auth.User)}
}

func (m *memUserRepo) Create(_ context.Context, u *auth.User, p *auth.Profile) error {
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

func (m *memUserRepo) GetByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
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

func (m *memUserRepo) First(_ context.Context) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *auth.User
	for _, u := range m.users {
		if first == nil || u.ID < first.ID {
			first = u
		}
	}
	if first == nil {
		return nil, auth.ErrUserNotFound
	}
	cp := *first
	return &cp, nil
}

func (m *memUserRepo) update(id int64, fn func(u *auth.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *memUserRepo) SetPassword(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *auth.User) {
		u.PasswordHash = hash
		u.ResetToken = nil
		u.ResetTokenExpiresAt = nil
	})
}

func (m *memUserRepo) SetResetToken(_ context.Context, id int64, token string, exp time.Time) error {
	return m.update(id, func(u *auth.User) {
		u.ResetToken = &token
		u.ResetTokenExpiresAt = &exp
	})
}

func (m *memUserRepo) SetTOTPSecret(_ context.Context, id int64, secret string) error {
	return m.update(id, func(u *auth.User) {
		u.TOTPSecret = &secret
		u.TOTPEnabled = false
	})
}

func (m *memUserRepo) EnableTOTP(_ context.Context, id int64) error {
	return m.update(id, func(u *auth.User) { u.TOTPEnabled = true })
}

func (m *memUserRepo) AddRole(_ context.Context, id int64, role string) error {
	return m.update(id, func(u *auth.User) {
		if !u.HasRole(role) {
			u.Roles = append(u.Roles, role)
		}
	})
}

func (m *memUserRepo) CountAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// --- Mailer capturing links ---

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (c *captureMailer) SendPasswordReset(_ context.Context, _ string, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, link)
	return nil
}

// --- Helpers ---

var testSecret = []byte("unit-test-secret")

func newService(t *testing.T) (*auth.Service, *memUserRepo, *captureMailer) {
	t.Helper()
	repo := newMemUserRepo()
	mailer := &captureMailer{}
	svc := auth.NewService(repo, testHasher(), testSecret, mailer, "http://hub.test/")
	return svc, repo, mailer
}

func signUp(t *testing.T, svc *auth.Service, email string) *auth.User {
	t.Helper()
	u, err := svc.SignUp(context.Background(), auth.SignUpInput{
		Email:    email,
		Password: "correct horse",
		Name:     "Vera",
		Surname:  "Rubin",
	})
	require.NoError(t, err)
	return u
}

// --- SignUp / Authenticate ---

func TestSignUp_CreatesProfileAndBaseRole(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	u := signUp(t, svc, "vera@example.org")

	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	require.NotNil(t, u.Profile)
	assert.Equal(t, "Rubin, Vera", u.Profile.AuthorName())
	assert.True(t, u.HasRole(auth.RoleUser))
}

func TestSignUp_DuplicateEmailCaseInsensitive(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	signUp(t, svc, "vera@example.org")

	_, err := svc.SignUp(context.Background(), auth.SignUpInput{
		Email: "VERA@example.org", Password: "x", Name: "V", Surname: "R",
	})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestFirstUser(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	_, err := svc.FirstUser(context.Background())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	first := signUp(t, svc, "vera@example.org")
	signUp(t, svc, "henrietta@example.org")

	u, err := svc.FirstUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, u.ID)
}

func TestAuthenticate_Success(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	created := signUp(t, svc, "vera@example.org")

	u, err := svc.Authenticate(context.Background(), "vera@example.org", "correct horse", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	signUp(t, svc, "vera@example.org")

	_, err := svc.Authenticate(context.Background(), "vera@example.org", "wrong", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody@example.org", "correct horse", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

// --- Password reset ---

// TestAuthenticate_UnknownEmailCostsAVerification compares the fastest of a
// few attempts per branch; the unknown-email branch must do argon2 work too.
func TestAuthenticate_UnknownEmailCostsAVerification(t *testing.T) {
	hasher := auth.NewHasher(16 * 1024)
	hasher.Iterations = 2
	svc := auth.NewService(newMemUserRepo(), hasher, testSecret, &captureMailer{}, "http://hub.test/")
	signUp(t, svc, "vera@example.org")

	fastest := func(email string) time.Duration {
		best := time.Duration(1<<63 - 1)
		for i := 0; i < 3; i++ {
			start := time.Now()
			_, err := svc.Authenticate(context.Background(), email, "wrong password", "")
			require.ErrorIs(t, err, auth.ErrInvalidCredentials)
			best = min(best, time.Since(start))
		}
		return best
	}

	wrongPassword := fastest("vera@example.org")
	unknownEmail := fastest("nobody@example.org")

	assert.Greater(t, unknownEmail, wrongPassword/4,
		"unknown email took %s, wrong password %s", unknownEmail, wrongPassword)
}

func TestPasswordReset_RoundTrip(t *testing.T) {
	t.Parallel()

	svc, repo, mailer := newService(t)
	u := signUp(t, svc, "vera@example.org")
	ctx := context.Background()

	require.NoError(t, svc.RequestPasswordReset(ctx, "vera@example.org"))
	require.Len(t, mailer.links, 1)
	require.True(t, strings.HasPrefix(mailer.links[0], "http://hub.test/reset-password/"))
	token := strings.TrimPrefix(mailer.links[0], "http://hub.test/reset-password/")

	stored, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetToken)
	assert.Equal(t, token, *stored.ResetToken)

	require.NoError(t, svc.ResetPassword(ctx, token, "new password"))

	stored, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiresAt)

	_, err = svc.Authenticate(ctx, "vera@example.org", "new password", "")
	assert.NoError(t, err)
}

func TestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	t.Parallel()

	svc, _, mailer := newService(t)
	require.NoError(t, svc.RequestPasswordReset(context.Background(), "ghost@example.org"))
	assert.Empty(t, mailer.links)
}

func TestResetToken_ExpiresAfterThirtyMinutes(t *testing.T) {
	t.Parallel()

	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := auth.SignResetToken(testSecret, 42, issued)
	require.NoError(t, err)

	id, err := auth.ParseResetToken(testSecret, token, issued.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = auth.ParseResetToken(testSecret, token, issued.Add(31*time.Minute))
	assert.ErrorIs(t, err, auth.ErrInvalidResetToken)

	_, err = auth.ParseResetToken([]byte("other"), token, issued)
	assert.ErrorIs(t, err, auth.ErrInvalidResetToken)
}

// --- TOTP ---

func TestTOTP_SetupVerifyAndLogin(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	u := signUp(t, svc, "vera@example.org")
	ctx := context.Background()

	setup, err := svc.SetupTOTP(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(setup.URI, "otpauth://totp/"))
	assert.NotEmpty(t, setup.QRCodePNG)

	// not enforced until verified
	_, err = svc.Authenticate(ctx, "vera@example.org", "correct horse", "")
	require.NoError(t, err)

	now := time.Now()
	svc.SetClock(func() time.Time { return now })
	code, err := totp.GenerateCode(setup.Secret, now)
	require.NoError(t, err)

	require.NoError(t, svc.VerifyTOTP(ctx, u.ID, code))

	_, err = svc.Authenticate(ctx, "vera@example.org", "correct horse", "")
	assert.ErrorIs(t, err, auth.ErrTOTPRequired)

	_, err = svc.Authenticate(ctx, "vera@example.org", "correct horse", "000000x")
	assert.ErrorIs(t, err, auth.ErrInvalidTOTP)

	_, err = svc.Authenticate(ctx, "vera@example.org", "correct horse", code)
	assert.NoError(t, err)

	png, err := svc.TOTPQRCode(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestCheckTOTP_OnlyCurrentWindow(t *testing.T) {
	t.Parallel()

	setup, err := auth.NewTOTPSecret("someone@example.org")
	require.NoError(t, err)

	at := time.Date(2025, 1, 1, 0, 0, 15, 0, time.UTC)
	code, err := totp.GenerateCode(setup.Secret, at)
	require.NoError(t, err)

	assert.True(t, auth.CheckTOTP(setup.Secret, code, at))
	assert.False(t, auth.CheckTOTP(setup.Secret, code, at.Add(90*time.Second)))
	assert.False(t, auth.CheckTOTP(setup.Secret, "12345", at))
}

func TestVerifyTOTP_NotConfigured(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	u := signUp(t, svc, "vera@example.org")

	err := svc.VerifyTOTP(context.Background(), u.ID, "123456")
	assert.ErrorIs(t, err, auth.ErrTOTPNotConfigured)
}

// --- Capabilities ---

func TestAdminPolicy(t *testing.T) {
	t.Parallel()

	policy := auth.NewAdminPolicy([]string{"Boss@Example.org"})

	assert.True(t, policy.IsAdmin(&auth.Identity{Email: "boss@example.org", Roles: []string{auth.RoleUser}}))
	assert.True(t, policy.IsAdmin(&auth.Identity{Email: "x@example.org", Roles: []string{auth.RoleAdmin}}))
	assert.False(t, policy.IsAdmin(&auth.Identity{Email: "x@example.org", Roles: []string{auth.RoleUser}}))
	assert.False(t, policy.IsAdmin(nil))
}

func TestIsCurator(t *testing.T) {
	t.Parallel()

	assert.True(t, auth.IsCurator([]string{auth.RoleUser, auth.RoleCurator}))
	assert.True(t, auth.IsCurator([]string{auth.RoleAdmin}))
	assert.False(t, auth.IsCurator([]string{auth.RoleUser}))
}
