package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrTOTPRequired is returned when the account has two-factor enabled and no code was given.
var ErrTOTPRequired = errors.New("totp code required")

// ErrInvalidTOTP is returned when a submitted two-factor code does not match.
var ErrInvalidTOTP = errors.New("invalid totp code")

// ErrTOTPNotConfigured is returned when verifying a code for a user with no secret.
var ErrTOTPNotConfigured = errors.New("totp not configured")

// SignUpInput carries the fields needed to create an account with its profile.
type SignUpInput struct {
	Email       string
	Password    string
	Name        string
	Surname     string
	Affiliation *string
	ORCID       *string
}

// Service provides account operations.
type Service struct {
	repo    UserRepository
	hasher  *Hasher
	secret  []byte
	mailer  Mailer
	baseURL string
	now     func() time.Time
}

// NewService creates a new auth Service. baseURL is used to build reset links.
func NewService(repo UserRepository, hasher *Hasher, secret []byte, mailer Mailer, baseURL string) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		repo:    repo,
		hasher:  hasher,
		secret:  secret,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Authenticate checks email and password. An unknown email costs one
// password verification like a wrong password. When the account has
// two-factor enabled, totpCode must match the current window.
func (s *Service) Authenticate(ctx context.Context, email, password, totpCode string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.VerifyAbsent(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		slog.Warn("stored password hash is malformed", "userId", u.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if u.TOTPEnabled && u.TOTPSecret != nil {
		if totpCode == "" {
			return nil, ErrTOTPRequired
		}
		if !CheckTOTP(*u.TOTPSecret, totpCode, s.now()) {
			return nil, ErrInvalidTOTP
		}
	}

	return u, nil
}

// SignUp creates a user, profile and base role in one transaction.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &User{
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
	}
	p := &Profile{
		Name:        strings.TrimSpace(in.Name),
		Surname:     strings.TrimSpace(in.Surname),
		Affiliation: in.Affiliation,
		ORCID:       in.ORCID,
	}

	if err := s.repo.Create(ctx, u, p); err != nil {
		return nil, err
	}

	return u, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// FirstUser returns the earliest registered user, or ErrUserNotFound when
// there are none.
func (s *Service) FirstUser(ctx context.Context) (*User, error) {
	return s.repo.First(ctx)
}

// RequestPasswordReset issues a reset token for email and mails its link.
// Unknown emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	now := s.now()
	token, err := SignResetToken(s.secret, u.ID, now)
	if err != nil {
		return err
	}

	if err := s.repo.SetResetToken(ctx, u.ID, token, now.Add(ResetTokenTTL)); err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}

	link := s.baseURL + "/reset-password/" + token
	if err := s.mailer.SendPasswordReset(ctx, u.Email, link); err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}
	return nil
}

// ValidateResetToken checks signature and age only.
func (s *Service) ValidateResetToken(token string) (int64, error) {
	return ParseResetToken(s.secret, token, s.now())
}

// ResetPassword redeems a reset token. The stored shadow is cleared along with it.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.ValidateResetToken(token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	if err := s.repo.SetPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	return nil
}

// SetupTOTP creates and stores a new secret for the user. It is not enforced
// at login until VerifyTOTP succeeds once.
func (s *Service) SetupTOTP(ctx context.Context, userID int64) (*TOTPSetup, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	setup, err := NewTOTPSecret(u.Email)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetTOTPSecret(ctx, userID, setup.Secret); err != nil {
		return nil, err
	}
	return setup, nil
}

// VerifyTOTP checks code against the user's secret and enables two-factor on first success.
func (s *Service) VerifyTOTP(ctx context.Context, userID int64, code string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.TOTPSecret == nil {
		return ErrTOTPNotConfigured
	}
	if !CheckTOTP(*u.TOTPSecret, code, s.now()) {
		return ErrInvalidTOTP
	}
	if !u.TOTPEnabled {
		if err := s.repo.EnableTOTP(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// TOTPQRCode renders the user's current secret as a PNG QR code.
func (s *Service) TOTPQRCode(ctx context.Context, userID int64) ([]byte, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TOTPSecret == nil {
		return nil, ErrTOTPNotConfigured
	}
	return QRCode(TOTPURI(u.Email, *u.TOTPSecret))
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
