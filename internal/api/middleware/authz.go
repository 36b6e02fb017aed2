package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/apikey"
)

const apiKeyKey contextKey = "apiKey"

// API-key gate outcomes reported to the KeyObserver.
const (
	KeyAllowed           = "allowed"
	KeyMissing           = "missing"
	KeyInvalid           = "invalid"
	KeyInactive          = "inactive"
	KeyInsufficientScope = "insufficient_scope"
)

// KeyResolver validates a presented API key.
type KeyResolver interface {
	Resolve(ctx context.Context, rawKey, requiredScope string) (*apikey.Key, error)
	RecordUsage(ctx context.Context, k *apikey.Key)
}

// KeyObserver counts gate decisions.
type KeyObserver interface {
	ObserveAPIKey(result string)
}

// RequireScope gates a route on an API key carrying scope. Missing and
// unknown keys get 401; inactive, expired and under-scoped keys get 403.
// Accepted requests bump the key's usage counters.
func RequireScope(keys KeyResolver, scope string, obs KeyObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			k, err := keys.Resolve(r.Context(), apikey.ExtractKey(r), scope)
			if err != nil {
				status, code, msg, result := keyRejection(err)
				observeKey(obs, result)
				if status == http.StatusInternalServerError {
					response.Internal(w, msg, err, requestID)
					return
				}
				response.Err(w, status, code, msg, requestID)
				return
			}

			keys.RecordUsage(r.Context(), k)
			observeKey(obs, KeyAllowed)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyKey, k)))
		})
	}
}

func keyRejection(err error) (status int, code, msg, result string) {
	switch {
	case errors.Is(err, apikey.ErrMissingKey):
		return http.StatusUnauthorized, "MISSING_API_KEY", "API key is required", KeyMissing
	case errors.Is(err, apikey.ErrInvalidKey):
		return http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key", KeyInvalid
	case errors.Is(err, apikey.ErrInactiveOrExpired):
		return http.StatusForbidden, "INACTIVE_API_KEY", "API key is inactive or expired", KeyInactive
	case errors.Is(err, apikey.ErrInsufficientScope):
		return http.StatusForbidden, "INSUFFICIENT_SCOPE", "API key lacks the required scope", KeyInsufficientScope
	}
	return http.StatusInternalServerError, response.CodeInternal, "Failed to validate API key", KeyInvalid
}

func observeKey(obs KeyObserver, result string) {
	if obs != nil {
		obs.ObserveAPIKey(result)
	}
}

// GetAPIKey returns the key accepted by RequireScope.
func GetAPIKey(ctx context.Context) *apikey.Key {
	if k, ok := ctx.Value(apiKeyKey).(*apikey.Key); ok {
		return k
	}
	return nil
}
