package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/api/validation"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/token"
)

// AuthHandler handles login, logout, token refresh, signup, password reset
// and two-factor enrollment.
type AuthHandler struct {
	auth         *auth.Service
	tokens       *token.Service
	locator      *token.Locator
	cookieSecure bool
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *auth.Service, tokens *token.Service, locator *token.Locator, cookieSecure bool) *AuthHandler {
	return &AuthHandler{auth: authService, tokens: tokens, locator: locator, cookieSecure: cookieSecure}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

type signUpRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Name        string  `json:"name"`
	Surname     string  `json:"surname"`
	Affiliation *string `json:"affiliation"`
	ORCID       *string `json:"orcid"`
}

type userResponse struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Surname     string   `json:"surname,omitempty"`
	Roles       []string `json:"roles"`
	TOTPEnabled bool     `json:"totpEnabled"`
	CreatedAt   string   `json:"createdAt"`
}

type sessionResponse struct {
	User             userResponse `json:"user"`
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  string       `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt string       `json:"refreshExpiresAt"`
}

func toUserResponse(u *auth.User) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Roles:       u.Roles,
		TOTPEnabled: u.TOTPEnabled,
		CreatedAt:   formatTime(u.CreatedAt),
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if u.Profile != nil {
		resp.Name = u.Profile.Name
		resp.Surname = u.Profile.Surname
	}
	return resp
}

func (h *AuthHandler) clientInfo(r *http.Request) token.ClientInfo {
	return token.ClientInfo{
		Device:   token.DeviceName(r.UserAgent()),
		Location: h.locator.Locate(r.Context(), r.RemoteAddr),
	}
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession issues a token pair, sets both cookies and writes the session.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, u *auth.User) {
	requestID := middleware.GetRequestID(r.Context())

	pair, err := h.tokens.IssuePair(r.Context(), u.ID, h.clientInfo(r))
	if err != nil {
		response.Internal(w, "Failed to start session", err, requestID)
		return
	}

	h.setCookie(w, middleware.AccessCookie, pair.Access.Code, pair.Access.ExpiresAt)
	h.setCookie(w, middleware.RefreshCookie, pair.Refresh.Code, pair.Refresh.ExpiresAt)

	response.Success(w, status, sessionResponse{
		User:             toUserResponse(u),
		AccessToken:      pair.Access.Code,
		AccessExpiresAt:  formatTime(pair.Access.ExpiresAt),
		RefreshToken:     pair.Refresh.Code,
		RefreshExpiresAt: formatTime(pair.Refresh.ExpiresAt),
	}, requestID)
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, validation.ValidateLogin(req.Email, req.Password)) {
		return
	}

	u, err := h.auth.Authenticate(r.Context(), req.Email, req.Password, strings.TrimSpace(req.TOTPCode))
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		response.Err(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", requestID)
		return
	case errors.Is(err, auth.ErrTOTPRequired):
		response.Err(w, http.StatusUnauthorized, "TOTP_REQUIRED", "A two-factor code is required", requestID)
		return
	case errors.Is(err, auth.ErrInvalidTOTP):
		response.Err(w, http.StatusUnauthorized, "INVALID_TOTP", "Invalid two-factor code", requestID)
		return
	case err != nil:
		response.Internal(w, "Failed to authenticate", err, requestID)
		return
	}

	h.startSession(w, r, http.StatusOK, u)
}

// Logout handles POST /logout. It revokes the presented token family and
// clears both cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	err := h.tokens.RevokeByJTI(r.Context(), identity.JTI, identity.UserID)
	if err != nil && !errors.Is(err, token.ErrTokenNotFound) {
		response.Internal(w, "Failed to log out", err, requestID)
		return
	}

	h.clearCookie(w, middleware.AccessCookie)
	h.clearCookie(w, middleware.RefreshCookie)
	response.Message(w, http.StatusOK, "Logged out", requestID)
}

// Refresh handles POST /token/refresh. The refresh token comes from its
// cookie or from {"refreshToken": "..."}.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	raw := ""
	if c, err := r.Cookie(middleware.RefreshCookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		raw = body.RefreshToken
	}
	if raw == "" {
		response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Refresh token is required", requestID)
		return
	}

	refresh, err := h.tokens.ValidateRefresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenInvalid) {
			response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Refresh token is invalid, expired or revoked", requestID)
			return
		}
		response.Internal(w, "Failed to refresh session", err, requestID)
		return
	}

	access, err := h.tokens.Refresh(r.Context(), refresh.JTI, h.clientInfo(r))
	if err != nil {
		if errors.Is(err, token.ErrTokenInvalid) || errors.Is(err, token.ErrTokenNotFound) {
			response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Refresh token is invalid, expired or revoked", requestID)
			return
		}
		response.Internal(w, "Failed to refresh session", err, requestID)
		return
	}

	h.setCookie(w, middleware.AccessCookie, access.Code, access.ExpiresAt)
	response.Success(w, http.StatusOK, map[string]string{
		"accessToken":     access.Code,
		"accessExpiresAt": formatTime(access.ExpiresAt),
	}, requestID)
}

// SignUp handles POST /signup/. The new account is logged in.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, validation.ValidateSignUp(validation.SignUpRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Surname:  req.Surname,
		ORCID:    req.ORCID,
	})) {
		return
	}

	u, err := h.auth.SignUp(r.Context(), auth.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Surname:     req.Surname,
		Affiliation: req.Affiliation,
		ORCID:       req.ORCID,
	})
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			response.Err(w, http.StatusConflict, response.CodeConflict, "Email "+strings.TrimSpace(req.Email)+" in use", requestID)
			return
		}
		response.Internal(w, "Failed to create account", err, requestID)
		return
	}

	h.startSession(w, r, http.StatusCreated, u)
}

// RequestReset handles POST /reset-password. The answer does not reveal
// whether the email is registered.
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		validationFailed(w, r, []validation.FieldError{{Field: "email", Message: "email is required"}})
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		response.Internal(w, "Failed to request password reset", err, requestID)
		return
	}
	response.Message(w, http.StatusOK, "If the email is registered, a reset link has been sent", requestID)
}

// Reset handles POST /reset-password/{token}.
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, validation.ValidatePassword(req.Password)) {
		return
	}

	err := h.auth.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) {
			response.Err(w, http.StatusBadRequest, "INVALID_TOKEN", "The reset link is invalid or has expired", requestID)
			return
		}
		response.Internal(w, "Failed to reset password", err, requestID)
		return
	}
	response.Message(w, http.StatusOK, "Password updated", requestID)
}

// CheckReset handles GET /reset-password/{token}: it reports whether the
// link from the reset mail can still be redeemed.
func (h *AuthHandler) CheckReset(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if _, err := h.auth.ValidateResetToken(chi.URLParam(r, "token")); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_TOKEN", "The reset link is invalid or has expired", requestID)
		return
	}
	response.Success(w, http.StatusOK, map[string]bool{"valid": true}, requestID)
}

// SetupTOTP handles POST /2fa/setup.
func (h *AuthHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	setup, err := h.auth.SetupTOTP(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to set up two-factor authentication", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, setup, requestID)
}

// VerifyTOTP handles POST /2fa/verify.
func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.auth.VerifyTOTP(r.Context(), identity.UserID, strings.TrimSpace(req.Code))
	switch {
	case errors.Is(err, auth.ErrTOTPNotConfigured):
		response.Err(w, http.StatusConflict, response.CodeConflict, "Two-factor authentication has not been set up", requestID)
	case errors.Is(err, auth.ErrInvalidTOTP):
		response.Err(w, http.StatusBadRequest, "INVALID_TOTP", "Invalid two-factor code", requestID)
	case err != nil:
		response.Internal(w, "Failed to verify two-factor code", err, requestID)
	default:
		response.Message(w, http.StatusOK, "Two-factor authentication enabled", requestID)
	}
}

// TOTPQRCode handles GET /2fa/qr. It answers image/png, or the image as
// base64 JSON when the client asks for application/json.
func (h *AuthHandler) TOTPQRCode(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	png, err := h.auth.TOTPQRCode(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrTOTPNotConfigured) {
			response.Err(w, http.StatusNotFound, response.CodeNotFound, "Two-factor authentication has not been set up", requestID)
			return
		}
		response.Internal(w, "Failed to render QR code", err, requestID)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		response.Success(w, http.StatusOK, map[string]string{"qrCodePng": base64.StdEncoding.EncodeToString(png)}, requestID)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
