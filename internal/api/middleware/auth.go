package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/token"
)

// Session cookie names.
const (
	AccessCookie  = "access_token_cookie"
	RefreshCookie = "refresh_token_cookie"
)

const identityKey contextKey = "identity"

// AccessValidator checks a presented access token.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, raw string) (*token.Token, error)
}

// UserLookup loads the account behind a token.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
}

// Session resolves the access token from "Authorization: Bearer" or the
// access cookie into an Identity. Requests without a usable token continue
// anonymously; RequireUser rejects them where a session is mandatory.
func Session(tokens AccessValidator, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				if c, err := r.Cookie(AccessCookie); err == nil {
					raw = c.Value
				}
			}
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			t, err := tokens.ValidateAccess(r.Context(), raw)
			if err != nil {
				if !errors.Is(err, token.ErrTokenInvalid) {
					slog.Warn("failed to validate access token", "error", err, "requestId", GetRequestID(r.Context()))
				}
				next.ServeHTTP(w, r)
				return
			}

			u, err := users.GetUser(r.Context(), t.UserID)
			if err != nil {
				if !errors.Is(err, auth.ErrUserNotFound) {
					slog.Warn("failed to load session user", "error", err, "userId", t.UserID)
				}
				next.ServeHTTP(w, r)
				return
			}

			identity := &auth.Identity{UserID: u.ID, Email: u.Email, Roles: u.Roles, JTI: t.JTI}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the authenticated Identity from the request context.
func GetIdentity(ctx context.Context) *auth.Identity {
	if id, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return id
	}
	return nil
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentity(r.Context()) == nil {
			response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Authentication required", GetRequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCurator rejects identities without the curator or admin role.
func RequireCurator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())

		identity := GetIdentity(r.Context())
		if identity == nil {
			response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Authentication required", requestID)
			return
		}
		if !identity.IsCurator() {
			response.Err(w, http.StatusForbidden, response.CodeForbidden, "Curator access required", requestID)
			return
		}
		next.ServeHTTP(w, r)
	})
}
