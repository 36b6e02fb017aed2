package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/api/validation"
	"github.com/astronomiahub/hub/internal/apikey"
)

// APIKeyHandler manages the caller's API keys.
type APIKeyHandler struct {
	keys *apikey.Service
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(keys *apikey.Service) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type apiKeyResponse struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	KeyPrefix     string   `json:"keyPrefix"`
	Scopes        []string `json:"scopes"`
	IsActive      bool     `json:"isActive"`
	ExpiresAt     *string  `json:"expiresAt"`
	RequestsCount int64    `json:"requestsCount"`
	LastUsedAt    *string  `json:"lastUsedAt"`
	CreatedAt     string   `json:"createdAt"`
}

type apiKeyWithSecretResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

func toAPIKeyResponse(k *apikey.Key) apiKeyResponse {
	scopes := k.ScopeList()
	if scopes == nil {
		scopes = []string{}
	}
	return apiKeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        scopes,
		IsActive:      k.IsActive,
		ExpiresAt:     formatTimePtr(k.ExpiresAt),
		RequestsCount: k.RequestsCount,
		LastUsedAt:    formatTimePtr(k.LastUsedAt),
		CreatedAt:     formatTime(k.CreatedAt),
	}
}

// List handles GET /api-keys.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	keys, err := h.keys.List(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to list API keys", err, requestID)
		return
	}

	items := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		items = append(items, toAPIKeyResponse(&keys[i]))
	}
	response.Success(w, http.StatusOK, items, requestID)
}

// Create handles POST /api-keys. The raw key is only ever returned here.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	var req createAPIKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, validation.ValidateCreateAPIKey(validation.CreateAPIKeyRequest{
		Name:      req.Name,
		Scopes:    req.Scopes,
		ExpiresAt: req.ExpiresAt,
	}, time.Now())) {
		return
	}

	k, raw, err := h.keys.Create(r.Context(), identity.UserID, req.Name, req.Scopes, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, apikey.ErrUnknownScope) {
			validationFailed(w, r, []validation.FieldError{{Field: "scopes", Message: err.Error()}})
			return
		}
		response.Internal(w, "Failed to create API key", err, requestID)
		return
	}

	response.Success(w, http.StatusCreated, apiKeyWithSecretResponse{
		apiKeyResponse: toAPIKeyResponse(k),
		Key:            raw,
	}, requestID)
}

// Revoke handles PUT /api-keys/{id}/revoke.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.keys.Revoke, "API key revoked")
}

// Delete handles DELETE /api-keys/{id}.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.keys.Delete, "API key deleted")
}

func (h *APIKeyHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, userID int64) error, done string) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	err := op(r.Context(), id, identity.UserID)
	switch {
	case errors.Is(err, apikey.ErrKeyNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "API key not found", requestID)
	case errors.Is(err, apikey.ErrForbidden):
		response.Err(w, http.StatusForbidden, response.CodeForbidden, "API key belongs to another user", requestID)
	case err != nil:
		response.Internal(w, "Failed to update API key", err, requestID)
	default:
		response.Message(w, http.StatusOK, done, requestID)
	}
}
