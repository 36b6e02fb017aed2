package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/apikey"
	"github.com/astronomiahub/hub/internal/ratelimit"
)

// KeyFunc derives the rate-limit bucket of a request.
type KeyFunc func(r *http.Request) string

// LimitObserver counts rejected requests.
type LimitObserver interface {
	ObserveRateLimited(scope string)
}

// ClientIP buckets by remote address. Forwarding headers count only when the
// router trusts a proxy and rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// APIKeyOrIP buckets by the presented API key hash, falling back to ClientIP.
func APIKeyOrIP(r *http.Request) string {
	if k := apikey.ExtractKey(r); k != "" {
		return "key:" + apikey.Hash(k)
	}
	return "ip:" + ClientIP(r)
}

// RateLimit enforces every limit for the bucket keyFn returns, within scope.
// Rejections answer 429 with Retry-After. Store failures let the request
// through.
func RateLimit(store ratelimit.Store, scope string, keyFn KeyFunc, obs LimitObserver, limits ...ratelimit.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := ratelimit.AllowAll(r.Context(), store, scope+":"+keyFn(r), limits...)
			if err != nil {
				slog.Warn("rate limit store unavailable", "scope", scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			}
			if !res.Allowed {
				if obs != nil {
					obs.ObserveRateLimited(scope)
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				response.Err(w, http.StatusTooManyRequests, response.CodeRateLimited, "Rate limit exceeded", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
