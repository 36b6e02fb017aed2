package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/astronomiahub/hub/internal/api/response"
)

// Recovery turns panics into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint
				panic(rec)
			}
			requestID := GetRequestID(r.Context())
			slog.Error("panic recovered",
				"error", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"requestId", requestID,
				"stack", string(debug.Stack()),
			)
			response.Err(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", requestID)
		}()
		next.ServeHTTP(w, r)
	})
}
