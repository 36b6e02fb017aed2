package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/api/validation"
	"github.com/astronomiahub/hub/internal/auth"
)

// Visitor cookies used to count anonymous views and downloads once.
const (
	ViewCookie         = "view_cookie"
	DownloadCookie     = "download_cookie"
	FileViewCookie     = "file_view_cookie"
	FileDownloadCookie = "file_download_cookie"
)

const (
	maxJSONBody   = 1 << 20
	visitorMaxAge = 365 * 24 * time.Hour
)

// decodeJSON reads a JSON body into dst. A false return means the error
// response has been written. An empty body decodes as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidJSON, "Request body must be valid JSON", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// pathID parses the named URL parameter as a positive integer id.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		response.Err(w, http.StatusBadRequest, response.CodeInvalidID, name+" must be a positive integer", middleware.GetRequestID(r.Context()))
		return 0, false
	}
	return id, true
}

func validationFailed(w http.ResponseWriter, r *http.Request, errs []validation.FieldError) bool {
	if len(errs) == 0 {
		return false
	}
	response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Input validation failed", errs, middleware.GetRequestID(r.Context()))
	return true
}

// visitorCookie returns the visitor id stored in cookie name, issuing a new
// one when absent.
func visitorCookie(w http.ResponseWriter, r *http.Request, name string, secure bool) string {
	if c, err := r.Cookie(name); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(visitorMaxAge),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// userIDOf returns the identity's user id, or nil for anonymous requests.
func userIDOf(identity *auth.Identity) *int64 {
	if identity == nil {
		return nil
	}
	id := identity.UserID
	return &id
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// intQuery parses an integer query parameter, returning def when absent or
// malformed.
func intQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}
