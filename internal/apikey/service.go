package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Gate resolution errors.
var (
	ErrMissingKey        = errors.New("missing_api_key")
	ErrInvalidKey        = errors.New("invalid_api_key")
	ErrInactiveOrExpired = errors.New("inactive_or_expired")
	ErrInsufficientScope = errors.New("insufficient_scope")
)

// ErrForbidden is returned when a user manages a key they do not own.
var ErrForbidden = errors.New("api key belongs to another user")

// ErrUnknownScope is returned when a requested scope is not recognised.
var ErrUnknownScope = errors.New("unknown scope")

// Service manages API keys and resolves presented keys.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new apikey Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create generates and stores a new key. The raw key is returned once.
func (s *Service) Create(ctx context.Context, userID int64, name string, scopes []string, expiresAt *time.Time) (*Key, string, error) {
	normalized, err := NormalizeScopes(scopes)
	if err != nil {
		return nil, "", err
	}

	rawKey, hash, prefix, err := Generate()
	if err != nil {
		return nil, "", err
	}

	k := &Key{
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    normalized,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}
	if err := s.repo.Create(ctx, k); err != nil {
		return nil, "", err
	}
	return k, rawKey, nil
}

// Seed stores rawKey for userID unless a key with the same hash exists.
// It is used to provision load-testing keys from configuration.
func (s *Service) Seed(ctx context.Context, userID int64, name, rawKey string, scopes []string) (*Key, error) {
	if len(rawKey) < prefixLen {
		return nil, ErrInvalidKey
	}
	hash := Hash(rawKey)
	existing, err := s.repo.GetByHash(ctx, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("looking up seeded key: %w", err)
	}

	normalized, err := NormalizeScopes(scopes)
	if err != nil {
		return nil, err
	}
	k := &Key{
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: rawKey[:prefixLen],
		Scopes:    normalized,
		IsActive:  true,
	}
	if err := s.repo.Create(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

// List returns the user's keys.
func (s *Service) List(ctx context.Context, userID int64) ([]Key, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Revoke deactivates a key owned by userID.
func (s *Service) Revoke(ctx context.Context, id, userID int64) error {
	if err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.Deactivate(ctx, id)
}

// Delete removes a key owned by userID.
func (s *Service) Delete(ctx context.Context, id, userID int64) error {
	if err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) owned(ctx context.Context, id, userID int64) error {
	k, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if k.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// Resolve maps a presented raw key to a usable Key granting requiredScope.
// An empty requiredScope skips the scope check.
func (s *Service) Resolve(ctx context.Context, rawKey, requiredScope string) (*Key, error) {
	if rawKey == "" {
		return nil, ErrMissingKey
	}

	k, err := s.repo.GetByHash(ctx, Hash(rawKey))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("resolving api key: %w", err)
	}

	if !k.Usable(s.now()) {
		return nil, ErrInactiveOrExpired
	}
	if requiredScope != "" && !k.HasScope(requiredScope) {
		return nil, ErrInsufficientScope
	}
	return k, nil
}

// RecordUsage bumps the key's usage counters. Failures are logged only.
func (s *Service) RecordUsage(ctx context.Context, k *Key) {
	if err := s.repo.IncrementUsage(ctx, k.ID); err != nil {
		slog.Warn("failed to record api key usage", "key_id", k.ID, "error", err)
	}
}

// NormalizeScopes validates scopes and joins them into the stored form.
// An empty list yields DefaultScopes.
func NormalizeScopes(scopes []string) (string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range scopes {
		for _, s := range splitScopes(raw) {
			if !knownScopes[s] {
				return "", fmt.Errorf("%w: %s", ErrUnknownScope, s)
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return DefaultScopes, nil
	}
	return strings.Join(out, ","), nil
}

// HeaderName carries the raw key on API requests.
const HeaderName = "X-API-Key"

// ExtractKey returns the first non-empty key from the X-API-Key header, the
// api_key query parameter, or an "Authorization: ApiKey <key>" header.
func ExtractKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderName)); k != "" {
		return k
	}
	if k := strings.TrimSpace(r.URL.Query().Get("api_key")); k != "" {
		return k
	}
	if scheme, k, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "ApiKey") {
		return strings.TrimSpace(k)
	}
	return ""
}
