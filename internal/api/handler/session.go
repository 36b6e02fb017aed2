package handler

import (
	"errors"
	"net/http"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/token"
)

// SessionHandler lists and revokes the caller's tokens.
type SessionHandler struct {
	tokens *token.Service
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(tokens *token.Service) *SessionHandler {
	return &SessionHandler{tokens: tokens}
}

type tokenResponse struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	DeviceInfo   string `json:"deviceInfo"`
	LocationInfo string `json:"locationInfo"`
	CreatedAt    string `json:"createdAt"`
	ExpiresAt    string `json:"expiresAt"`
	IsCurrent    bool   `json:"isCurrent"`
}

// List handles GET /token/sessions. The presented access token and its
// refresh parent are flagged as current.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	tokens, err := h.tokens.ActiveSessions(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to list sessions", err, requestID)
		return
	}

	var currentParent string
	for _, t := range tokens {
		if t.JTI == identity.JTI && t.ParentJTI != nil {
			currentParent = *t.ParentJTI
		}
	}

	items := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, tokenResponse{
			ID:           t.ID,
			Type:         t.Type,
			DeviceInfo:   t.DeviceInfo,
			LocationInfo: t.LocationInfo,
			CreatedAt:    formatTime(t.CreatedAt),
			ExpiresAt:    formatTime(t.ExpiresAt),
			IsCurrent:    t.JTI == identity.JTI || (currentParent != "" && t.JTI == currentParent),
		})
	}
	response.Success(w, http.StatusOK, items, requestID)
}

// Revoke handles PUT and DELETE /token/revoke/{id}.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	err := h.tokens.Revoke(r.Context(), id, identity.UserID)
	switch {
	case errors.Is(err, token.ErrTokenNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Token not found", requestID)
	case errors.Is(err, token.ErrForbidden):
		response.Err(w, http.StatusForbidden, response.CodeForbidden, "Token belongs to another user", requestID)
	case err != nil:
		response.Internal(w, "Failed to revoke token", err, requestID)
	default:
		response.Message(w, http.StatusOK, "Token revoked", requestID)
	}
}

// RevokeAll handles PUT /token/revoke/all.
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	n, err := h.tokens.RevokeAll(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to revoke tokens", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, map[string]int64{"revoked": n}, requestID)
}
