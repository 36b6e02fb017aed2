package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrForbidden is returned when revoking a token owned by another user.
var ErrForbidden = errors.New("token belongs to another user")

// Service issues, rotates, validates and revokes session tokens.
type Service struct {
	repo       Repository
	signer     *Signer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService creates a new token Service.
func NewService(repo Repository, secret []byte, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		signer:     NewSigner(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// IssuePair mints a refresh token and then an access token linked to it.
func (s *Service) IssuePair(ctx context.Context, userID int64, info ClientInfo) (*Pair, error) {
	refresh, err := s.mint(ctx, userID, TypeRefresh, nil, s.refreshTTL, info)
	if err != nil {
		return nil, err
	}

	access, err := s.mint(ctx, userID, TypeAccess, &refresh.JTI, s.accessTTL, info)
	if err != nil {
		return nil, err
	}

	return &Pair{Access: access, Refresh: refresh}, nil
}

// Refresh deactivates the active access tokens of refreshJTI and mints a new one.
func (s *Service) Refresh(ctx context.Context, refreshJTI string, info ClientInfo) (*Token, error) {
	refresh, err := s.repo.GetByJTI(ctx, refreshJTI)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if refresh.Type != TypeRefresh || !refresh.Usable(s.now()) {
		return nil, ErrTokenInvalid
	}

	if _, err := s.repo.DeactivateAccessByParent(ctx, refresh.JTI); err != nil {
		return nil, err
	}

	return s.mint(ctx, refresh.UserID, TypeAccess, &refresh.JTI, s.accessTTL, info)
}

// Revoke deactivates a token owned by requesterID. Revoking either member of a
// pair deactivates the whole family. Revoking an inactive token succeeds.
func (s *Service) Revoke(ctx context.Context, tokenID, requesterID int64) error {
	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if t.UserID != requesterID {
		return ErrForbidden
	}

	familyJTI := t.JTI
	if t.Type == TypeAccess && t.ParentJTI != nil {
		familyJTI = *t.ParentJTI
	}

	if _, err := s.repo.DeactivateFamily(ctx, familyJTI); err != nil {
		return err
	}
	return nil
}

// RevokeByJTI revokes the family of the token with the given jti.
func (s *Service) RevokeByJTI(ctx context.Context, jti string, requesterID int64) error {
	t, err := s.repo.GetByJTI(ctx, jti)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, t.ID, requesterID)
}

// RevokeAll deactivates every active token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	return s.repo.DeactivateAllForUser(ctx, userID)
}

// ActiveSessions lists the user's active, unexpired tokens.
func (s *Service) ActiveSessions(ctx context.Context, userID int64) ([]Token, error) {
	return s.repo.ListActiveByUser(ctx, userID)
}

// ValidateAccess verifies a presented access token: signature, row state, and
// the state of its refresh parent.
func (s *Service) ValidateAccess(ctx context.Context, raw string) (*Token, error) {
	t, err := s.validate(ctx, raw, TypeAccess)
	if err != nil {
		return nil, err
	}

	if t.ParentJTI == nil {
		return nil, ErrTokenInvalid
	}
	parent, err := s.repo.GetByJTI(ctx, *t.ParentJTI)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !parent.Usable(s.now()) {
		return nil, ErrTokenInvalid
	}

	return t, nil
}

// ValidateRefresh verifies a presented refresh token.
func (s *Service) ValidateRefresh(ctx context.Context, raw string) (*Token, error) {
	return s.validate(ctx, raw, TypeRefresh)
}

// SweepExpired deactivates expired tokens and orphaned access tokens.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeactivateExpired(ctx, s.now())
}

func (s *Service) validate(ctx context.Context, raw, wantType string) (*Token, error) {
	now := s.now()
	claims, err := s.signer.Parse(raw, now)
	if err != nil {
		return nil, err
	}
	if claims.Type != wantType {
		return nil, ErrTokenInvalid
	}

	t, err := s.repo.GetByJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if t.Type != wantType || !t.Usable(now) || t.UserID != claims.UserID {
		return nil, ErrTokenInvalid
	}
	return t, nil
}

func (s *Service) mint(ctx context.Context, userID int64, typ string, parent *string, ttl time.Duration, info ClientInfo) (*Token, error) {
	now := s.now()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID: userID,
		Type:   typ,
	}
	claims.ID = jti
	claims.IssuedAt = jwtTime(now)
	claims.ExpiresAt = jwtTime(expiresAt)
	if parent != nil {
		claims.Parent = *parent
	}

	code, err := s.signer.Sign(claims)
	if err != nil {
		return nil, err
	}

	t := &Token{
		UserID:       userID,
		JTI:          jti,
		Code:         code,
		Type:         typ,
		IsActive:     true,
		ParentJTI:    parent,
		ExpiresAt:    expiresAt,
		DeviceInfo:   info.Device,
		LocationInfo: info.Location,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("storing %s token: %w", typ, err)
	}
	return t, nil
}
